// Package wa implements the WhatsApp Cloud API (Graph) client used by the job
// handlers: media metadata lookup and download, template catalog listing, and
// outbound message send.
//
// All requests carry the bearer access token; the API version is pinned via
// configuration. A non-2xx response surfaces the provider error body in the
// returned error so it lands in job_queue.last_error for diagnostics.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxMediaBytes caps media downloads; WhatsApp caps inbound attachments well
// below this, so hitting the limit means a misbehaving URL.
const maxMediaBytes = 100 << 20

// Client is a WhatsApp Cloud API client.
type Client struct {
	baseURL string
	version string
	token   string
	http    *http.Client
}

// New creates a Client. baseURL is the Graph API root
// (https://graph.facebook.com in production, an httptest server in tests).
func New(baseURL, version, token string) *Client {
	return &Client{
		baseURL: baseURL,
		version: version,
		token:   token,
		http: &http.Client{
			Timeout: 25 * time.Second,
		},
	}
}

// apiError is the Graph API error envelope.
type apiError struct {
	Error json.RawMessage `json:"error"`
}

// MediaInfo is the transient media metadata returned by GET /{media_id}.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// GetMediaInfo fetches download metadata for a media object. The returned URL
// is short-lived and must be fetched promptly with [Client.Download].
func (c *Client) GetMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error) {
	var info MediaInfo
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, mediaID), &info); err != nil {
		return nil, fmt.Errorf("media info %s: %w", mediaID, err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("media info %s: empty download url", mediaID)
	}
	return &info, nil
}

// Download fetches the media binary from a URL returned by GetMediaInfo.
// The bearer token is required by the provider for media CDN URLs.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d byte limit", maxMediaBytes)
	}
	return data, nil
}

// TextBody is the free-text message body.
type TextBody struct {
	Body string `json:"body"`
}

// SendRequest is the POST /{phone_number_id}/messages payload. Template and
// Text are mutually exclusive; Template wins when both are set.
type SendRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             *TextBody       `json:"text,omitempty"`
	Template         json.RawMessage `json:"template,omitempty"`
}

// sendResponse is the subset of the send response we consume.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage posts an outbound message through the given provider phone
// number and returns the provider-assigned message id.
func (c *Client) SendMessage(ctx context.Context, phoneNumberID string, req SendRequest) (string, error) {
	req.MessagingProduct = "whatsapp"

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, phoneNumberID),
		bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("send message: status %d: %s", resp.StatusCode, providerError(respBody))
	}

	var out sendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", nil // accepted but no id returned; caller records empty id
	}
	return out.Messages[0].ID, nil
}

// TemplateComponent is one component of a provider template definition.
type TemplateComponent struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Example json.RawMessage `json:"example,omitempty"`
}

// Template is one entry of the provider template catalog.
type Template struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Category   string              `json:"category"`
	Status     string              `json:"status"`
	Components []TemplateComponent `json:"components"`
}

// templateListResponse is the paginated catalog envelope. Paging cursors are
// ignored: the catalog is fetched with a fixed limit per sync.
type templateListResponse struct {
	Data []Template `json:"data"`
}

// ListTemplates fetches the template catalog for a WABA, up to limit entries.
func (c *Client) ListTemplates(ctx context.Context, wabaID string, limit int) ([]Template, error) {
	var out templateListResponse
	url := fmt.Sprintf("%s/%s/%s/message_templates?limit=%d", c.baseURL, c.version, wabaID, limit)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, fmt.Errorf("list templates %s: %w", wabaID, err)
	}
	return out.Data, nil
}

// getJSON issues an authenticated GET and decodes the JSON response into v.
func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, providerError(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// providerError extracts the Graph error object from a response body, falling
// back to the raw body when it is not the standard envelope.
func providerError(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && len(e.Error) > 0 {
		return string(e.Error)
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
