// ABOUTME: Tests for the WhatsApp Cloud API client against httptest servers.
package wa_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/al-azab/souq-chat/internal/wa"
)

func TestSendMessageSetsProductAndAuth(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages": [{"id": "wamid.abc"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := wa.New(srv.URL, "v24.0", "secret-token")
	id, err := c.SendMessage(context.Background(), "pn_42", wa.SendRequest{
		To:   "+201234567890",
		Type: "text",
		Text: &wa.TextBody{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.abc" {
		t.Errorf("provider id = %q, want wamid.abc", id)
	}
	if gotPath != "/v24.0/pn_42/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["messaging_product"] != "whatsapp" {
		t.Errorf("messaging_product = %v, want whatsapp", gotBody["messaging_product"])
	}
}

func TestSendMessageSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "invalid recipient", "code": 131026}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := wa.New(srv.URL, "v24.0", "token")
	_, err := c.SendMessage(context.Background(), "pn_42", wa.SendRequest{
		To: "+20", Type: "text", Text: &wa.TextBody{Body: "x"},
	})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "invalid recipient") {
		t.Errorf("error %q does not carry the provider message", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func TestGetMediaInfoRejectsEmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "media1", "mime_type": "image/jpeg"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := wa.New(srv.URL, "v24.0", "token")
	if _, err := c.GetMediaInfo(context.Background(), "media1"); err == nil {
		t.Fatal("expected error for metadata without a download url")
	}
}

func TestDownloadSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("binary-data")) //nolint:errcheck
	}))
	defer srv.Close()

	c := wa.New("https://unused", "v24.0", "token")
	data, err := c.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "binary-data" {
		t.Errorf("data = %q", data)
	}
	if gotAuth != "Bearer token" {
		t.Errorf("auth = %q, want bearer token on media CDN fetch", gotAuth)
	}
}

func TestListTemplatesDecodesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v24.0/waba_9/message_templates" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "250" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"id": "1", "name": "order_update", "language": "ar", "category": "UTILITY",
			 "status": "APPROVED", "components": [{"type": "BODY", "text": "hi {{1}}"}]}
		]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := wa.New(srv.URL, "v24.0", "token")
	templates, err := c.ListTemplates(context.Background(), "waba_9", 250)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("templates = %d, want 1", len(templates))
	}
	tpl := templates[0]
	if tpl.Name != "order_update" || tpl.Language != "ar" || len(tpl.Components) != 1 {
		t.Errorf("template = %+v", tpl)
	}
}
