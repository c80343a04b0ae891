// ABOUTME: Store methods for the append-only audit_logs operator visibility table.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditLog is one row of the audit_logs table.
type AuditLog struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    *uuid.UUID
	Action    string
	Entity    string
	EntityID  *uuid.UUID
	Meta      json.RawMessage
	CreatedAt time.Time
}

// InsertAuditLogParams holds the fields of one audit entry.
type InsertAuditLogParams struct {
	TenantID uuid.UUID
	UserID   *uuid.UUID
	Action   string
	Entity   string
	EntityID *uuid.UUID
	Meta     json.RawMessage
}

// InsertAuditLog appends one audit entry.
func (s *Store) InsertAuditLog(ctx context.Context, p InsertAuditLogParams) error {
	meta := p.Meta
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (tenant_id, user_id, action, entity, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.TenantID, p.UserID, p.Action, p.Entity, p.EntityID, meta)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns audit entries for a tenant, newest first.
func (s *Store) ListAuditLogs(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, user_id, action, entity, entity_id, meta, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.UserID, &l.Action, &l.Entity,
			&l.EntityID, &l.Meta, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}
