// ABOUTME: Integration tests for webhook endpoint CRUD, the synchronous test
// ABOUTME: delivery, and the dispatch trigger endpoint.
package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/al-azab/souq-chat/internal/api"
	"github.com/al-azab/souq-chat/internal/config"
	"github.com/al-azab/souq-chat/internal/dispatch"
	"github.com/al-azab/souq-chat/internal/store"
	"github.com/al-azab/souq-chat/internal/testutil"
)

func authedRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer s3cret")
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEndpointLifecycle(t *testing.T) {
	st := testutil.NewTestDB(t)
	tenant := testutil.SeedTenant(t, st)

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	cfg := &config.Config{ServiceToken: "s3cret"}
	h := api.NewServer(st, cfg, nil, nil).Handler()
	base := fmt.Sprintf("/api/v1/tenants/%s/webhook-endpoints", tenant.ID)

	// Create.
	rec := do(h, authedRequest(http.MethodPost, base,
		fmt.Sprintf(`{"url": %q, "secret": "hook-secret", "events": ["message.received"]}`, target.URL)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var created struct {
		ID        string `json:"id"`
		IsEnabled bool   `json:"is_enabled"`
		HasSecret bool   `json:"has_secret"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !created.IsEnabled || !created.HasSecret {
		t.Errorf("created = %+v, want enabled with secret", created)
	}

	// Invalid URL rejected.
	rec = do(h, authedRequest(http.MethodPost, base, `{"url": "ftp://nope"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad scheme status = %d, want 400", rec.Code)
	}

	// List.
	rec = do(h, authedRequest(http.MethodGet, base, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 {
		t.Errorf("items = %d, want 1", len(list.Items))
	}

	// Disable via PATCH.
	rec = do(h, authedRequest(http.MethodPatch, base+"/"+created.ID, `{"is_enabled": false}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", rec.Code, rec.Body)
	}
	var patched struct {
		IsEnabled bool `json:"is_enabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &patched); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	if patched.IsEnabled {
		t.Error("endpoint still enabled after patch")
	}

	// Synchronous test delivery records an outcome row.
	rec = do(h, authedRequest(http.MethodPost, base+"/"+created.ID+"/test", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("test status = %d, body = %s", rec.Code, rec.Body)
	}
	var testOut struct {
		Success    bool  `json:"success"`
		StatusCode int32 `json:"status_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &testOut); err != nil {
		t.Fatalf("decode test response: %v", err)
	}
	if !testOut.Success || testOut.StatusCode != 200 {
		t.Errorf("test outcome = %+v", testOut)
	}

	rec = do(h, authedRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/tenants/%s/webhook-deliveries?event_type=test", tenant.ID), ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("deliveries status = %d", rec.Code)
	}
	var dels struct {
		Items []struct {
			EventType string `json:"event_type"`
			Success   bool   `json:"success"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &dels); err != nil {
		t.Fatalf("decode deliveries: %v", err)
	}
	if len(dels.Items) != 1 || !dels.Items[0].Success {
		t.Errorf("deliveries = %+v, want one successful test row", dels.Items)
	}

	// Delete, then 404 on fetch.
	rec = do(h, authedRequest(http.MethodDelete, base+"/"+created.ID, ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(h, authedRequest(http.MethodGet, base+"/"+created.ID, ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestEnqueueJobMaxAttemptsDefaultsFromConfig(t *testing.T) {
	st := testutil.NewTestDB(t)
	tenant := testutil.SeedTenant(t, st)

	cfg := &config.Config{ServiceToken: "s3cret", DispatchMaxAttempts: 3}
	h := api.NewServer(st, cfg, nil, nil).Handler()
	base := fmt.Sprintf("/api/v1/tenants/%s/jobs", tenant.ID)

	cases := []struct {
		name string
		body string
		want int32
	}{
		{"omitted takes config default", `{"job_type": "SEND_MESSAGE"}`, 3},
		{"explicit value wins", `{"job_type": "SEND_MESSAGE", "max_attempts": 5}`, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := do(h, authedRequest(http.MethodPost, base, c.body))
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			var resp struct {
				JobID int64 `json:"job_id"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			job, err := st.GetJob(t.Context(), resp.JobID)
			if err != nil || job == nil {
				t.Fatalf("get job: job=%v err=%v", job, err)
			}
			if job.MaxAttempts != c.want {
				t.Errorf("max_attempts = %d, want %d", job.MaxAttempts, c.want)
			}
		})
	}
}

func TestDispatchTriggerReturnsSummary(t *testing.T) {
	st := testutil.NewTestDB(t)
	tenant := testutil.SeedTenant(t, st)

	d := dispatch.New(st, dispatch.Config{BatchSize: 10, HandlerTimeout: 5 * time.Second})
	d.Register(store.JobSendMessage, func(context.Context, *store.Job) error { return nil })

	cfg := &config.Config{ServiceToken: "s3cret"}
	h := api.NewServer(st, cfg, nil, d).Handler()

	if _, err := st.EnqueueJob(t.Context(), store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobSendMessage,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := do(h, authedRequest(http.MethodPost, "/api/v1/worker/dispatch", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var summary struct {
		Processed int `json:"processed"`
		Results   []struct {
			JobID   int64  `json:"job_id"`
			JobType string `json:"job_type"`
			Status  string `json:"status"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Processed != 1 || len(summary.Results) != 1 {
		t.Fatalf("summary = %+v, want one processed job", summary)
	}
	if summary.Results[0].Status != "completed" || summary.Results[0].JobType != store.JobSendMessage {
		t.Errorf("result = %+v", summary.Results[0])
	}
}
