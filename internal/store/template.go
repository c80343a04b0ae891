// ABOUTME: Store methods for wa_accounts and the provider template catalog mirror.
// ABOUTME: Template upsert is keyed by (tenant_id, wa_account_id, name, language).
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WAAccount is a WhatsApp Business account binding for a tenant.
type WAAccount struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	WABAID   string
	Name     string
}

// GetWAAccount returns the account with the given id scoped to tenantID, or
// nil when not found.
func (s *Store) GetWAAccount(ctx context.Context, id, tenantID uuid.UUID) (*WAAccount, error) {
	var a WAAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, waba_id, name FROM wa_accounts
		WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.WABAID, &a.Name)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wa account: %w", err)
	}
	return &a, nil
}

// UpsertTemplateParams holds one synced template catalog entry.
type UpsertTemplateParams struct {
	TenantID    uuid.UUID
	WAAccountID uuid.UUID
	Name        string
	Language    string
	Category    string
	Status      string
	Body        string
	Variables   json.RawMessage
	Meta        json.RawMessage
}

// UpsertTemplate inserts or overwrites a template catalog entry. Idempotent by
// construction: re-syncing the same catalog yields the same rows.
func (s *Store) UpsertTemplate(ctx context.Context, p UpsertTemplateParams) error {
	variables := p.Variables
	if variables == nil {
		variables = json.RawMessage(`[]`)
	}
	meta := p.Meta
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO templates
			(tenant_id, wa_account_id, name, language, category, status, body, variables, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, wa_account_id, name, language)
		DO UPDATE SET
			category   = EXCLUDED.category,
			status     = EXCLUDED.status,
			body       = EXCLUDED.body,
			variables  = EXCLUDED.variables,
			meta       = EXCLUDED.meta,
			updated_at = now()`,
		p.TenantID, p.WAAccountID, p.Name, p.Language, p.Category, p.Status,
		p.Body, variables, meta)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// CountTemplates returns the number of templates for an account. Test helper
// for upsert stability checks.
func (s *Store) CountTemplates(ctx context.Context, tenantID, waAccountID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM templates WHERE tenant_id = $1 AND wa_account_id = $2`,
		tenantID, waAccountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return n, nil
}
