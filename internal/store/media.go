// ABOUTME: Store methods for media_files: placeholder insert and one-shot completion.
// ABOUTME: A NULL storage_key marks a placeholder; completion sets it exactly once.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MediaFile represents one piece of inbound media. A row with a nil StorageKey
// is a placeholder awaiting ingestion.
type MediaFile struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	MessageID  *uuid.UUID
	Kind       string
	Mime       *string
	SizeBytes  *int64
	SHA256     *string
	StorageKey *string
	CreatedAt  time.Time
}

// InsertMediaPlaceholder creates the placeholder row for an inbound attachment.
// storage_key stays NULL until the ingestion handler completes it.
func (s *Store) InsertMediaPlaceholder(ctx context.Context, tenantID, messageID uuid.UUID, kind string, mime *string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO media_files (tenant_id, message_id, kind, mime)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		tenantID, messageID, kind, mime,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert media placeholder: %w", err)
	}
	return id, nil
}

// FindPendingMediaFile returns the placeholder row for (tenantID, messageID),
// or nil when no placeholder exists — meaning a prior attempt already
// completed the record and the caller must treat the job as done.
func (s *Store) FindPendingMediaFile(ctx context.Context, tenantID, messageID uuid.UUID) (*MediaFile, error) {
	var m MediaFile
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, message_id, kind, mime, size_bytes, sha256, storage_key, created_at
		FROM media_files
		WHERE tenant_id = $1 AND message_id = $2 AND storage_key IS NULL`,
		tenantID, messageID,
	).Scan(&m.ID, &m.TenantID, &m.MessageID, &m.Kind, &m.Mime, &m.SizeBytes,
		&m.SHA256, &m.StorageKey, &m.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending media file: %w", err)
	}
	return &m, nil
}

// CompleteMediaFile fills in the final metadata for a placeholder. Guarded by
// storage_key IS NULL so a concurrent duplicate attempt cannot complete the
// same record twice.
func (s *Store) CompleteMediaFile(ctx context.Context, id uuid.UUID, storageKey, mime string, sizeBytes int64, sha256 string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE media_files
		SET storage_key = $2, mime = $3, size_bytes = $4, sha256 = $5
		WHERE id = $1 AND storage_key IS NULL`,
		id, storageKey, mime, sizeBytes, sha256)
	if err != nil {
		return fmt.Errorf("complete media file %s: %w", id, err)
	}
	return nil
}

// GetMediaFile returns the media row with the given id, or nil if not found.
func (s *Store) GetMediaFile(ctx context.Context, id uuid.UUID) (*MediaFile, error) {
	var m MediaFile
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, message_id, kind, mime, size_bytes, sha256, storage_key, created_at
		FROM media_files WHERE id = $1`, id,
	).Scan(&m.ID, &m.TenantID, &m.MessageID, &m.Kind, &m.Mime, &m.SizeBytes,
		&m.SHA256, &m.StorageKey, &m.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get media file: %w", err)
	}
	return &m, nil
}
