// ABOUTME: HTTP handlers for webhook endpoint CRUD, synchronous test delivery,
// ABOUTME: and the delivery history list.
package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
)

// webhookEndpointEntry is the JSON shape of an endpoint. The secret is write-
// only: only its presence is reported back.
type webhookEndpointEntry struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	IsEnabled bool     `json:"is_enabled"`
	HasSecret bool     `json:"has_secret"`
	CreatedAt string   `json:"created_at"`
}

func endpointEntry(ep *store.WebhookEndpoint) webhookEndpointEntry {
	return webhookEndpointEntry{
		ID:        ep.ID.String(),
		URL:       ep.URL,
		Events:    ep.Events,
		IsEnabled: ep.IsEnabled,
		HasSecret: ep.SecretHash != nil,
		CreatedAt: ep.CreatedAt.Format(time.RFC3339),
	}
}

type createWebhookEndpointRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events,omitempty"`
}

// createWebhookEndpointHandler handles POST .../webhook-endpoints.
func (srv *Server) createWebhookEndpointHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var req createWebhookEndpointRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}

	var secretHash *string
	if req.Secret != "" {
		h := hashSecret(req.Secret)
		secretHash = &h
	}

	ep, err := srv.store.CreateWebhookEndpoint(r.Context(), store.CreateWebhookEndpointParams{
		TenantID:   tenant,
		URL:        req.URL,
		SecretHash: secretHash,
		Events:     req.Events,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "create webhook endpoint", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, endpointEntry(ep))
}

// hashSecret stores a digest rather than the raw signing secret.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// listWebhookEndpointsHandler handles GET .../webhook-endpoints.
func (srv *Server) listWebhookEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	eps, err := srv.store.ListWebhookEndpoints(r.Context(), tenant)
	if err != nil {
		slog.ErrorContext(r.Context(), "list webhook endpoints", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]webhookEndpointEntry, len(eps))
	for i := range eps {
		items[i] = endpointEntry(&eps[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// getWebhookEndpointHandler handles GET .../webhook-endpoints/{endpoint_id}.
func (srv *Server) getWebhookEndpointHandler(w http.ResponseWriter, r *http.Request) {
	ep, ok := srv.endpointFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, endpointEntry(ep))
}

type updateWebhookEndpointRequest struct {
	URL       *string  `json:"url,omitempty"`
	Events    []string `json:"events,omitempty"`
	IsEnabled *bool    `json:"is_enabled,omitempty"`
}

// updateWebhookEndpointHandler handles PATCH .../webhook-endpoints/{endpoint_id}.
func (srv *Server) updateWebhookEndpointHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "endpoint_id"))
	if err != nil {
		http.Error(w, "invalid endpoint_id", http.StatusBadRequest)
		return
	}

	var req updateWebhookEndpointRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.URL != nil {
		if u, err := url.Parse(*req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			http.Error(w, "invalid url", http.StatusBadRequest)
			return
		}
	}

	err = srv.store.UpdateWebhookEndpoint(r.Context(), id, tenant, store.UpdateWebhookEndpointParams{
		URL:       req.URL,
		Events:    req.Events,
		IsEnabled: req.IsEnabled,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "update webhook endpoint", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ep, err := srv.store.GetWebhookEndpoint(r.Context(), id, tenant)
	if err != nil || ep == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, endpointEntry(ep))
}

// deleteWebhookEndpointHandler handles DELETE .../webhook-endpoints/{endpoint_id}.
func (srv *Server) deleteWebhookEndpointHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "endpoint_id"))
	if err != nil {
		http.Error(w, "invalid endpoint_id", http.StatusBadRequest)
		return
	}

	if err := srv.store.DeleteWebhookEndpoint(r.Context(), id, tenant); err != nil {
		slog.ErrorContext(r.Context(), "delete webhook endpoint", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testWebhookEndpointHandler handles POST .../webhook-endpoints/{endpoint_id}/test:
// a synchronous ping delivery so an operator can verify a new endpoint without
// waiting for real traffic. The outcome is recorded in webhook_deliveries like
// any other delivery.
func (srv *Server) testWebhookEndpointHandler(w http.ResponseWriter, r *http.Request) {
	ep, ok := srv.endpointFromPath(w, r)
	if !ok {
		return
	}

	body, err := json.Marshal(map[string]any{
		"event":     "test",
		"data":      map[string]string{"message": "souq-chat webhook test"},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	var (
		statusCode *int32
		success    bool
		lastError  *string
	)
	resp, err := client.Do(req)
	if err != nil {
		msg := err.Error()
		lastError = &msg
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		resp.Body.Close()                                    //nolint:errcheck
		sc := int32(resp.StatusCode)
		statusCode = &sc
		success = resp.StatusCode >= 200 && resp.StatusCode < 300
		if !success {
			msg := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
			lastError = &msg
		}
	}

	recErr := srv.store.InsertWebhookDelivery(r.Context(), store.InsertWebhookDeliveryParams{
		TenantID:          ep.TenantID,
		WebhookEndpointID: ep.ID,
		EventType:         "test",
		Payload:           body,
		StatusCode:        statusCode,
		Success:           success,
		Attempts:          1,
		LastError:         lastError,
	})
	if recErr != nil {
		slog.ErrorContext(r.Context(), "record test delivery", "error", recErr)
	}

	out := map[string]any{"success": success}
	if statusCode != nil {
		out["status_code"] = *statusCode
	}
	if lastError != nil {
		out["error"] = *lastError
	}
	writeJSON(w, http.StatusOK, out)
}

// endpointFromPath resolves the endpoint named by the URL within the request
// tenant, writing the error response itself when resolution fails.
func (srv *Server) endpointFromPath(w http.ResponseWriter, r *http.Request) (*store.WebhookEndpoint, bool) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "endpoint_id"))
	if err != nil {
		http.Error(w, "invalid endpoint_id", http.StatusBadRequest)
		return nil, false
	}

	ep, err := srv.store.GetWebhookEndpoint(r.Context(), id, tenant)
	if err != nil {
		slog.ErrorContext(r.Context(), "get webhook endpoint", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if ep == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return ep, true
}

// deliveryEntry is the JSON shape of one delivery history row.
type deliveryEntry struct {
	ID         string          `json:"id"`
	EndpointID string          `json:"webhook_endpoint_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	StatusCode *int32          `json:"status_code,omitempty"`
	Success    bool            `json:"success"`
	Attempts   int32           `json:"attempts"`
	LastError  *string         `json:"last_error,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

// listWebhookDeliveriesHandler handles GET .../webhook-deliveries with
// optional endpoint_id, event_type, success, and limit filters.
func (srv *Server) listWebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	var p store.ListWebhookDeliveriesParams
	if s := q.Get("endpoint_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			http.Error(w, "invalid endpoint_id", http.StatusBadRequest)
			return
		}
		p.EndpointID = &id
	}
	if s := q.Get("event_type"); s != "" {
		p.EventType = &s
	}
	if s := q.Get("success"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			http.Error(w, "invalid success", http.StatusBadRequest)
			return
		}
		p.Success = &b
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		p.Limit = n
	}

	rows, err := srv.store.ListWebhookDeliveries(r.Context(), tenant, p)
	if err != nil {
		slog.ErrorContext(r.Context(), "list webhook deliveries", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]deliveryEntry, len(rows))
	for i, row := range rows {
		items[i] = deliveryEntry{
			ID:         row.ID.String(),
			EndpointID: row.WebhookEndpointID.String(),
			EventType:  row.EventType,
			Payload:    row.Payload,
			StatusCode: row.StatusCode,
			Success:    row.Success,
			Attempts:   row.Attempts,
			LastError:  row.LastError,
			CreatedAt:  row.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
