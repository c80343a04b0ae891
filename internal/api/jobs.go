// ABOUTME: Job enqueue endpoint: POST /api/v1/tenants/{tenant_id}/jobs.
// ABOUTME: Lets trusted services schedule work without direct DB access.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-azab/souq-chat/internal/store"
)

type enqueueJobRequest struct {
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RunAfter    *time.Time      `json:"run_after,omitempty"`
	MaxAttempts int32           `json:"max_attempts,omitempty"`
}

// enqueueJobHandler inserts one job for the tenant. Only known job types are
// accepted: an unknown tag would just be drained by the dispatcher, so
// rejecting it here turns a silent no-op into a caller-visible 400.
func (srv *Server) enqueueJobHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var req enqueueJobRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if !store.KnownJobType(req.JobType) {
		http.Error(w, "unknown job_type", http.StatusBadRequest)
		return
	}
	if req.MaxAttempts < 0 {
		http.Error(w, "invalid max_attempts", http.StatusBadRequest)
		return
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = int32(srv.cfg.DispatchMaxAttempts)
	}

	id, err := srv.store.EnqueueJob(r.Context(), store.EnqueueJobParams{
		TenantID:    tenant,
		JobType:     req.JobType,
		Payload:     req.Payload,
		RunAfter:    req.RunAfter,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "enqueue job", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int64{"job_id": id})
}
