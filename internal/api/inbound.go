// ABOUTME: WhatsApp Cloud API inbound webhook: subscription verification (GET)
// ABOUTME: and the message/status receiver (POST), which produces queue jobs.
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
)

// verifyInboundHandler answers the provider's subscription handshake: echo
// hub.challenge when the verify token matches, 403 otherwise.
func (srv *Server) verifyInboundHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" ||
		srv.cfg.WAWebhookVerifyToken == "" ||
		q.Get("hub.verify_token") != srv.cfg.WAWebhookVerifyToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge"))) //nolint:errcheck
}

// Inbound payload shapes: the subset of the provider callback we consume.

type inboundEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value inboundValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WAID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []inboundMessage `json:"messages"`
	Statuses []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"statuses"`
}

type inboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *inboundMedia `json:"image"`
	Audio    *inboundMedia `json:"audio"`
	Video    *inboundMedia `json:"video"`
	Document *inboundMedia `json:"document"`
}

type inboundMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

// media returns the attached media ref and its kind, if any.
func (m *inboundMessage) media() (*inboundMedia, string) {
	switch {
	case m.Image != nil:
		return m.Image, "image"
	case m.Audio != nil:
		return m.Audio, "audio"
	case m.Video != nil:
		return m.Video, "video"
	case m.Document != nil:
		return m.Document, "document"
	}
	return nil, ""
}

// inboundHandler ingests one provider callback: persists inbound messages and
// enqueues the async follow-up jobs (media ingestion, workflow evaluation,
// webhook fan-out). Always answers 200 on valid-signature payloads, even when
// individual entries fail; the provider retries the whole callback otherwise,
// which would duplicate the entries that did succeed.
func (srv *Server) inboundHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if srv.cfg.WAAppSecret != "" {
		if !validSignature(body, r.Header.Get("X-Hub-Signature-256"), srv.cfg.WAAppSecret) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var env inboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if err := srv.processInboundValue(r, &change.Value); err != nil {
				slog.ErrorContext(r.Context(), "process inbound change", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// validSignature checks the X-Hub-Signature-256 header against the request
// body: "sha256=" + hex(HMAC-SHA256(appSecret, body)).
func validSignature(body []byte, header, appSecret string) bool {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(want))
}

// processInboundValue handles one change value: messages and status updates.
func (srv *Server) processInboundValue(r *http.Request, v *inboundValue) error {
	ctx := r.Context()

	for _, status := range v.Statuses {
		msg, err := srv.store.UpdateMessageStatusByProviderID(ctx, status.ID, status.Status)
		if err != nil {
			slog.ErrorContext(ctx, "apply status update",
				"provider_message_id", status.ID, "error", err)
			continue
		}
		if msg == nil || status.Status != "failed" {
			continue
		}
		// Failed deliveries feed the "message.failed" workflow trigger.
		if err := srv.enqueue(ctx, msg.TenantID, store.JobWorkflowRun, map[string]any{
			"message_id":      msg.ID,
			"conversation_id": msg.ConversationID,
		}); err != nil {
			slog.ErrorContext(ctx, "enqueue workflow for failed delivery",
				"message_id", msg.ID, "error", err)
		}
	}

	if len(v.Messages) == 0 {
		return nil
	}

	number, err := srv.store.GetWANumberByPhoneNumberID(ctx, v.Metadata.PhoneNumberID)
	if err != nil {
		return err
	}
	if number == nil {
		slog.WarnContext(ctx, "inbound for unregistered phone number",
			"phone_number_id", v.Metadata.PhoneNumberID)
		return nil
	}

	names := make(map[string]string, len(v.Contacts))
	for _, c := range v.Contacts {
		names[c.WAID] = c.Profile.Name
	}

	for _, msg := range v.Messages {
		if err := srv.ingestMessage(r, number, &msg, names[msg.From]); err != nil {
			slog.ErrorContext(ctx, "ingest inbound message",
				"provider_message_id", msg.ID, "error", err)
		}
	}
	return nil
}

// ingestMessage persists one inbound message and enqueues its follow-up jobs.
func (srv *Server) ingestMessage(r *http.Request, number *store.WANumber, msg *inboundMessage, displayName string) error {
	ctx := r.Context()
	tenant := number.TenantID

	contactID, err := srv.store.UpsertContact(ctx, tenant, msg.From, displayName, msg.From)
	if err != nil {
		return err
	}
	convID, err := srv.store.FindOrCreateOpenConversation(ctx, tenant, number.ID, contactID)
	if err != nil {
		return err
	}

	var text *string
	if msg.Text != nil {
		text = &msg.Text.Body
	}

	media, kind := msg.media()
	meta := map[string]any{"type": msg.Type}
	if media != nil {
		meta["media"] = map[string]string{"id": media.ID, "kind": kind, "mime_type": media.MimeType}
	}
	metaDoc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal message meta: %w", err)
	}

	providerID := msg.ID
	messageID, err := srv.store.InsertMessage(ctx, store.InsertMessageParams{
		TenantID:          tenant,
		ConversationID:    convID,
		Direction:         "inbound",
		Status:            "received",
		Text:              text,
		ProviderMessageID: &providerID,
		Meta:              metaDoc,
	})
	if err != nil {
		return err
	}

	if media != nil {
		var mime *string
		if media.MimeType != "" {
			mime = &media.MimeType
		}
		if _, err := srv.store.InsertMediaPlaceholder(ctx, tenant, messageID, kind, mime); err != nil {
			return err
		}
		if err := srv.enqueue(ctx, tenant, store.JobMediaProcess, map[string]any{
			"message_id": messageID,
			"media_id":   media.ID,
			"mime_type":  media.MimeType,
		}); err != nil {
			return err
		}
	}

	if err := srv.enqueue(ctx, tenant, store.JobWorkflowRun, map[string]any{
		"message_id":      messageID,
		"conversation_id": convID,
	}); err != nil {
		return err
	}

	// Webhook fan-out: one delivery job per enabled endpoint.
	endpoints, err := srv.store.ListEnabledWebhookEndpoints(ctx, tenant)
	if err != nil {
		return err
	}
	for _, epID := range endpoints {
		if err := srv.enqueue(ctx, tenant, store.JobWebhookDelivery, map[string]any{
			"webhook_endpoint_id": epID,
			"event_type":          "message.received",
			"payload": map[string]any{
				"message_id":      messageID,
				"conversation_id": convID,
				"text":            text,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// enqueue marshals the payload and inserts a job for the tenant.
func (srv *Server) enqueue(ctx context.Context, tenant uuid.UUID, jobType string, payload map[string]any) error {
	doc, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	_, err = srv.store.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID:    tenant,
		JobType:     jobType,
		Payload:     doc,
		MaxAttempts: int32(srv.cfg.DispatchMaxAttempts),
	})
	return err
}
