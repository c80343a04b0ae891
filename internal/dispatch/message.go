// ABOUTME: SEND_MESSAGE handler: posts an outbound text or template message
// ABOUTME: through the provider and records the sent message row.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
	"github.com/al-azab/souq-chat/internal/wa"
)

// MessageSender sends queued outbound messages through the provider.
//
// Note the duplicate window: if the send succeeds but the message row insert
// fails, the retry re-sends. The provider call is not idempotent, so this
// handler trades a rare duplicate message for never losing one.
type MessageSender struct {
	st  *store.Store
	wa  *wa.Client
	log *slog.Logger
}

// NewMessageSender creates the handler.
func NewMessageSender(st *store.Store, waClient *wa.Client) *MessageSender {
	return &MessageSender{st: st, wa: waClient, log: slog.Default()}
}

// sendPayload is the SEND_MESSAGE job payload. Template takes precedence over
// Text when both are present.
type sendPayload struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	Text           *string         `json:"text,omitempty"`
	Template       json.RawMessage `json:"template,omitempty"`
}

// Handle sends one message. An unknown conversation is an error (and so
// retryable): conversations are never deleted, so a miss points at a bad
// payload or replication lag, both worth surfacing in last_error.
func (h *MessageSender) Handle(ctx context.Context, job *store.Job) error {
	var p sendPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode send payload: %w", err)
	}
	_, _, err := h.Send(ctx, job.TenantID, p.ConversationID, p.Text, p.Template)
	return err
}

// Send posts one outbound message and records its row, returning the local
// message id and the provider message id. Shared by the queue handler and the
// synchronous API endpoint.
func (h *MessageSender) Send(ctx context.Context, tenantID, conversationID uuid.UUID, text *string, template json.RawMessage) (uuid.UUID, string, error) {
	info, err := h.st.GetConversationSendInfo(ctx, tenantID, conversationID)
	if err != nil {
		return uuid.Nil, "", err
	}
	if info == nil {
		return uuid.Nil, "", fmt.Errorf("conversation %s not found", conversationID)
	}

	// The provider expects the recipient without the leading "+".
	req := wa.SendRequest{To: strings.TrimPrefix(info.PhoneE164, "+")}
	meta := json.RawMessage(`{}`)
	switch {
	case len(template) > 0:
		req.Type = "template"
		req.Template = template
		meta, err = json.Marshal(map[string]json.RawMessage{"template": template})
		if err != nil {
			return uuid.Nil, "", fmt.Errorf("marshal message meta: %w", err)
		}
	case text != nil && *text != "":
		req.Type = "text"
		req.Text = &wa.TextBody{Body: *text}
	default:
		return uuid.Nil, "", fmt.Errorf("send payload has neither text nor template")
	}

	providerID, err := h.wa.SendMessage(ctx, info.PhoneNumberID, req)
	if err != nil {
		return uuid.Nil, "", err
	}

	var providerRef *string
	if providerID != "" {
		providerRef = &providerID
	}
	messageID, err := h.st.InsertMessage(ctx, store.InsertMessageParams{
		TenantID:          tenantID,
		ConversationID:    conversationID,
		Direction:         "outbound",
		Status:            "sent",
		Text:              text,
		ProviderMessageID: providerRef,
		Meta:              meta,
	})
	if err != nil {
		return uuid.Nil, "", err
	}

	h.log.Info("message sent",
		"conversation_id", conversationID, "provider_message_id", providerID)
	return messageID, providerID, nil
}
