// ABOUTME: WEBHOOK_DELIVERY handler: POSTs an event envelope to a customer
// ABOUTME: endpoint and appends the outcome to webhook_deliveries.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/store"
)

// WebhookDeliverer delivers events to customer-configured webhook endpoints.
type WebhookDeliverer struct {
	st     *store.Store
	client *http.Client
	log    *slog.Logger
}

// NewWebhookDeliverer creates the handler. client may be nil, in which case a
// 15s-timeout client is used.
func NewWebhookDeliverer(st *store.Store, client *http.Client) *WebhookDeliverer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookDeliverer{st: st, client: client, log: slog.Default()}
}

// webhookPayload is the WEBHOOK_DELIVERY job payload.
type webhookPayload struct {
	WebhookEndpointID uuid.UUID       `json:"webhook_endpoint_id"`
	EventType         string          `json:"event_type"`
	Payload           json.RawMessage `json:"payload"`
}

// webhookBody is the envelope posted to the customer endpoint.
type webhookBody struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Handle delivers one event. A missing or disabled endpoint completes the job
// without posting and without a delivery row: the endpoint owner opted out,
// which is not a failure. Every actual attempt appends one delivery row,
// success or not.
func (h *WebhookDeliverer) Handle(ctx context.Context, job *store.Job) error {
	var p webhookPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	ep, err := h.st.GetWebhookEndpoint(ctx, p.WebhookEndpointID, uuid.Nil)
	if err != nil {
		return err
	}
	if ep == nil || !ep.IsEnabled {
		h.log.Info("webhook endpoint gone or disabled, skipping delivery",
			"job_id", job.ID, "endpoint_id", p.WebhookEndpointID)
		return nil
	}

	data := p.Payload
	if data == nil {
		data = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(webhookBody{
		Event:     p.EventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.recordDelivery(ctx, job, &p, nil, err.Error())
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	status := int32(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		h.recordDelivery(ctx, job, &p, &status, errMsg)
		return fmt.Errorf("webhook delivery: %s", errMsg)
	}

	h.recordDelivery(ctx, job, &p, &status, "")
	return nil
}

// recordDelivery appends the outcome row. Recording failures are logged, not
// returned: the delivery outcome must not mask the delivery result itself.
func (h *WebhookDeliverer) recordDelivery(ctx context.Context, job *store.Job, p *webhookPayload, status *int32, errMsg string) {
	var lastError *string
	success := errMsg == ""
	if !success {
		lastError = &errMsg
	}
	err := h.st.InsertWebhookDelivery(ctx, store.InsertWebhookDeliveryParams{
		TenantID:          job.TenantID,
		WebhookEndpointID: p.WebhookEndpointID,
		EventType:         p.EventType,
		Payload:           p.Payload,
		StatusCode:        status,
		Success:           success,
		Attempts:          job.Attempts,
		LastError:         lastError,
	})
	if err != nil {
		h.log.Error("record webhook delivery", "job_id", job.ID, "error", err)
	}
}
