// ABOUTME: Request context keys, tenant/auth middleware, and JSON helpers for
// ABOUTME: the api package.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type contextKey int

const (
	ctxTenantID contextKey = iota // uuid.UUID — tenant from URL path param
)

// requireServiceToken rejects requests whose Authorization header does not
// carry the configured service bearer token. This guards the dispatch trigger
// and tenant admin surface; it is a service credential, not an end-user one.
func (srv *Server) requireServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || srv.cfg.ServiceToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(srv.cfg.ServiceToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tenantCtx parses the {tenant_id} path param into the request context.
func (srv *Server) tenantCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "tenant_id"))
		if err != nil {
			http.Error(w, "invalid tenant_id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxTenantID, id)))
	})
}

// tenantID reads the tenant id placed by tenantCtx.
func tenantID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(ctxTenantID).(uuid.UUID)
	return id, ok
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
