// ABOUTME: HTTP trigger for the job dispatcher: POST /api/v1/worker/dispatch.
// ABOUTME: Called by cron or an operator; returns the per-job batch summary.
package api

import (
	"log/slog"
	"net/http"
)

// dispatchHandler runs one dispatch batch and returns its summary. Safe to
// call concurrently and on a timer: overlapping batches partition work through
// the claim lease, so double triggers cost a few no-op claims, nothing more.
func (srv *Server) dispatchHandler(w http.ResponseWriter, r *http.Request) {
	if srv.dispatcher == nil {
		http.Error(w, "dispatcher not configured", http.StatusServiceUnavailable)
		return
	}

	summary, err := srv.dispatcher.RunBatch(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "dispatch batch", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
