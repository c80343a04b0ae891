// ABOUTME: MEDIA_PROCESS handler: downloads inbound media from the provider
// ABOUTME: and persists it to object storage, completing the placeholder row.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/al-azab/souq-chat/internal/objstore"
	"github.com/al-azab/souq-chat/internal/store"
	"github.com/al-azab/souq-chat/internal/wa"
)

// MediaIngestor moves inbound media from the provider CDN into object storage.
type MediaIngestor struct {
	st    *store.Store
	wa    *wa.Client
	blobs objstore.Uploader
	log   *slog.Logger
}

// NewMediaIngestor creates the handler.
func NewMediaIngestor(st *store.Store, waClient *wa.Client, blobs objstore.Uploader) *MediaIngestor {
	return &MediaIngestor{st: st, wa: waClient, blobs: blobs, log: slog.Default()}
}

// mediaPayload is the MEDIA_PROCESS job payload.
type mediaPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	MediaID   string    `json:"media_id"`
	MimeType  string    `json:"mime_type,omitempty"`
}

// Handle ingests one media object. The placeholder check runs before any
// network call: a retried job whose earlier attempt already completed the
// record returns success immediately without touching the provider or storage.
func (h *MediaIngestor) Handle(ctx context.Context, job *store.Job) error {
	var p mediaPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode media payload: %w", err)
	}

	pending, err := h.st.FindPendingMediaFile(ctx, job.TenantID, p.MessageID)
	if err != nil {
		return err
	}
	if pending == nil {
		h.log.Info("media already ingested, skipping",
			"job_id", job.ID, "message_id", p.MessageID)
		return nil
	}

	info, err := h.wa.GetMediaInfo(ctx, p.MediaID)
	if err != nil {
		return err
	}
	data, err := h.wa.Download(ctx, info.URL)
	if err != nil {
		return err
	}

	mime := info.MimeType
	if mime == "" {
		mime = p.MimeType
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	// Deterministic key: a retried job overwrites the same object instead of
	// orphaning the previous upload.
	key := fmt.Sprintf("%s/%s/%s.%s", job.TenantID, p.MessageID, p.MediaID, extFromMime(mime))

	if err := h.blobs.Upload(ctx, key, mime, data); err != nil {
		return err
	}

	if err := h.st.CompleteMediaFile(ctx, pending.ID, key, mime, int64(len(data)), digest); err != nil {
		return err
	}

	h.log.Info("media ingested",
		"job_id", job.ID, "media_file_id", pending.ID, "bytes", len(data), "key", key)
	return nil
}

// extFromMime derives a storage key suffix from a mime type: the subtype, with
// a few common aliases normalized. Falls back to "bin".
func extFromMime(mime string) string {
	_, sub, ok := strings.Cut(mime, "/")
	if !ok || sub == "" {
		return "bin"
	}
	if i := strings.IndexAny(sub, "+;"); i >= 0 {
		sub = sub[:i]
	}
	switch sub {
	case "jpeg":
		return "jpg"
	case "plain":
		return "txt"
	case "octet-stream":
		return "bin"
	}
	return sub
}
