// ABOUTME: Synchronous outbound send endpoint with audit logging.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
)

type sendMessageRequest struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	Text           *string         `json:"text,omitempty"`
	Template       json.RawMessage `json:"template,omitempty"`
}

// sendMessageHandler handles POST .../messages: sends immediately through the
// provider rather than enqueueing, for interactive operator replies. Records a
// SEND_MESSAGE audit entry on success.
func (srv *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var req sendMessageRequest
	if err := readJSON(r, &req); err != nil || req.ConversationID == uuid.Nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if (req.Text == nil || *req.Text == "") && len(req.Template) == 0 {
		http.Error(w, "text or template required", http.StatusBadRequest)
		return
	}

	messageID, providerID, err := srv.sender.Send(r.Context(), tenant, req.ConversationID, req.Text, req.Template)
	if err != nil {
		slog.ErrorContext(r.Context(), "send message", "error", err)
		http.Error(w, "send failed", http.StatusBadGateway)
		return
	}

	meta, _ := json.Marshal(map[string]any{
		"conversation_id":     req.ConversationID,
		"provider_message_id": providerID,
	})
	msgID := messageID
	if err := srv.store.InsertAuditLog(r.Context(), store.InsertAuditLogParams{
		TenantID: tenant,
		Action:   "SEND_MESSAGE",
		Entity:   "messages",
		EntityID: &msgID,
		Meta:     meta,
	}); err != nil {
		slog.ErrorContext(r.Context(), "record send audit", "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message_id":          messageID.String(),
		"provider_message_id": providerID,
	})
}
