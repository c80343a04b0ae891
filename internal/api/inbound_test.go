// ABOUTME: Integration tests for the inbound receiver producer path: message
// ABOUTME: persistence, media placeholders, and job fan-out.
package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/al-azab/souq-chat/internal/api"
	"github.com/al-azab/souq-chat/internal/config"
	"github.com/al-azab/souq-chat/internal/store"
	"github.com/al-azab/souq-chat/internal/testutil"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postInbound(t *testing.T, h http.Handler, secret string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wa/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(secret, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func countJobs(t *testing.T, st *store.Store, jobType string) int {
	t.Helper()
	var n int
	err := st.Pool().QueryRow(context.Background(),
		`SELECT count(*) FROM job_queue WHERE job_type = $1`, jobType).Scan(&n)
	if err != nil {
		t.Fatalf("count %s jobs: %v", jobType, err)
	}
	return n
}

func TestInboundTextMessageProducesJobs(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	// Two enabled endpoints and one disabled: fan-out covers only enabled ones.
	for range 2 {
		if _, err := st.CreateWebhookEndpoint(ctx, store.CreateWebhookEndpointParams{
			TenantID: tenant.ID, URL: "https://example.com/hook",
		}); err != nil {
			t.Fatalf("create endpoint: %v", err)
		}
	}
	ep, err := st.CreateWebhookEndpoint(ctx, store.CreateWebhookEndpointParams{
		TenantID: tenant.ID, URL: "https://example.com/disabled",
	})
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	disabled := false
	if err := st.UpdateWebhookEndpoint(ctx, ep.ID, tenant.ID,
		store.UpdateWebhookEndpointParams{IsEnabled: &disabled}); err != nil {
		t.Fatalf("disable endpoint: %v", err)
	}

	cfg := &config.Config{ServiceToken: "s3cret", WAAppSecret: "app-secret"}
	h := api.NewServer(st, cfg, nil, nil).Handler()

	body := []byte(`{
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "pn_123"},
			"contacts": [{"wa_id": "201234567890", "profile": {"name": "Mona"}}],
			"messages": [{
				"id": "wamid.in.1",
				"from": "201234567890",
				"type": "text",
				"text": {"body": "Is this in stock?"}
			}]
		}}]}]
	}`)

	rec := postInbound(t, h, "app-secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	// Message persisted.
	var text string
	var providerID string
	err = st.Pool().QueryRow(ctx, `
		SELECT text, provider_message_id FROM messages
		WHERE tenant_id = $1 AND direction = 'inbound'`, tenant.ID,
	).Scan(&text, &providerID)
	if err != nil {
		t.Fatalf("load inbound message: %v", err)
	}
	if text != "Is this in stock?" || providerID != "wamid.in.1" {
		t.Errorf("message: text=%q provider_id=%q", text, providerID)
	}

	// One workflow job; one delivery job per enabled endpoint; no media job.
	if n := countJobs(t, st, store.JobWorkflowRun); n != 1 {
		t.Errorf("workflow jobs = %d, want 1", n)
	}
	if n := countJobs(t, st, store.JobWebhookDelivery); n != 2 {
		t.Errorf("delivery jobs = %d, want 2 (disabled endpoint excluded)", n)
	}
	if n := countJobs(t, st, store.JobMediaProcess); n != 0 {
		t.Errorf("media jobs = %d, want 0 for a text message", n)
	}
}

func TestInboundMediaMessageCreatesPlaceholderAndJob(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	cfg := &config.Config{ServiceToken: "s3cret", WAAppSecret: "app-secret"}
	h := api.NewServer(st, cfg, nil, nil).Handler()

	body := []byte(`{
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "pn_123"},
			"messages": [{
				"id": "wamid.in.2",
				"from": "201234567890",
				"type": "image",
				"image": {"id": "media_77", "mime_type": "image/jpeg"}
			}]
		}}]}]
	}`)

	rec := postInbound(t, h, "app-secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var kind string
	var storageKey *string
	err := st.Pool().QueryRow(ctx,
		`SELECT kind, storage_key FROM media_files WHERE tenant_id = $1`, tenant.ID,
	).Scan(&kind, &storageKey)
	if err != nil {
		t.Fatalf("load media placeholder: %v", err)
	}
	if kind != "image" || storageKey != nil {
		t.Errorf("placeholder: kind=%q storage_key=%v, want pending image", kind, storageKey)
	}
	if n := countJobs(t, st, store.JobMediaProcess); n != 1 {
		t.Errorf("media jobs = %d, want 1", n)
	}
}

func TestInboundUnknownNumberIsAcknowledged(t *testing.T) {
	st := testutil.NewTestDB(t)
	testutil.SeedTenant(t, st)

	cfg := &config.Config{ServiceToken: "s3cret", WAAppSecret: "app-secret"}
	h := api.NewServer(st, cfg, nil, nil).Handler()

	body := []byte(`{
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "pn_unregistered"},
			"messages": [{"id": "wamid.x", "from": "2010", "type": "text",
			              "text": {"body": "hi"}}]
		}}]}]
	}`)

	rec := postInbound(t, h, "app-secret", body)
	// The provider must get a 200 or it retries forever; the entry is dropped.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if n := countJobs(t, st, store.JobWorkflowRun); n != 0 {
		t.Errorf("workflow jobs = %d, want 0 for an unregistered number", n)
	}
}

func TestInboundStatusUpdateAppliesToMessage(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	providerID := "wamid.out.9"
	if _, err := st.InsertMessage(ctx, store.InsertMessageParams{
		TenantID:          tenant.ID,
		ConversationID:    tenant.ConversationID,
		Direction:         "outbound",
		Status:            "sent",
		ProviderMessageID: &providerID,
	}); err != nil {
		t.Fatalf("insert outbound: %v", err)
	}

	cfg := &config.Config{ServiceToken: "s3cret", WAAppSecret: "app-secret"}
	h := api.NewServer(st, cfg, nil, nil).Handler()

	body := []byte(fmt.Sprintf(`{
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "pn_123"},
			"statuses": [{"id": %q, "status": "delivered"}]
		}}]}]
	}`, providerID))

	rec := postInbound(t, h, "app-secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var status string
	err := st.Pool().QueryRow(ctx,
		`SELECT status FROM messages WHERE provider_message_id = $1`, providerID,
	).Scan(&status)
	if err != nil {
		t.Fatalf("load message: %v", err)
	}
	if status != "delivered" {
		t.Errorf("status = %q, want delivered", status)
	}
	// Intermediate statuses do not feed workflows.
	if n := countJobs(t, st, store.JobWorkflowRun); n != 0 {
		t.Errorf("workflow jobs = %d, want 0 for a delivered status", n)
	}
}

func TestInboundFailedStatusEnqueuesWorkflowRun(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	providerID := "wamid.out.10"
	msgID, err := st.InsertMessage(ctx, store.InsertMessageParams{
		TenantID:          tenant.ID,
		ConversationID:    tenant.ConversationID,
		Direction:         "outbound",
		Status:            "sent",
		ProviderMessageID: &providerID,
	})
	if err != nil {
		t.Fatalf("insert outbound: %v", err)
	}

	cfg := &config.Config{ServiceToken: "s3cret", WAAppSecret: "app-secret"}
	h := api.NewServer(st, cfg, nil, nil).Handler()

	body := []byte(fmt.Sprintf(`{
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "pn_123"},
			"statuses": [{"id": %q, "status": "failed"}]
		}}]}]
	}`, providerID))

	rec := postInbound(t, h, "app-secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var jobPayload []byte
	err = st.Pool().QueryRow(ctx,
		`SELECT payload FROM job_queue WHERE job_type = $1`, store.JobWorkflowRun,
	).Scan(&jobPayload)
	if err != nil {
		t.Fatalf("load workflow job: %v", err)
	}
	var p struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(jobPayload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.MessageID != msgID.String() {
		t.Errorf("payload message_id = %q, want %s", p.MessageID, msgID)
	}
}
