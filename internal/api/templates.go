// ABOUTME: Synchronous template catalog sync endpoint with audit logging.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
)

type syncTemplatesRequest struct {
	WAAccountID uuid.UUID `json:"wa_account_id"`
}

// syncTemplatesHandler handles POST .../templates/sync: a synchronous catalog
// sync for operators who don't want to wait for the queued TEMPLATE_SYNC path.
// Records a TEMPLATES_SYNC audit entry on success.
func (srv *Server) syncTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var req syncTemplatesRequest
	if err := readJSON(r, &req); err != nil || req.WAAccountID == uuid.Nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	synced, err := srv.templates.Sync(r.Context(), tenant, req.WAAccountID)
	if err != nil {
		slog.ErrorContext(r.Context(), "sync templates", "error", err)
		http.Error(w, "sync failed", http.StatusBadGateway)
		return
	}

	meta, _ := json.Marshal(map[string]any{
		"wa_account_id": req.WAAccountID,
		"synced":        synced,
	})
	accountID := req.WAAccountID
	if err := srv.store.InsertAuditLog(r.Context(), store.InsertAuditLogParams{
		TenantID: tenant,
		Action:   "TEMPLATES_SYNC",
		Entity:   "wa_accounts",
		EntityID: &accountID,
		Meta:     meta,
	}); err != nil {
		slog.ErrorContext(r.Context(), "record templates sync audit", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]int{"synced": synced})
}
