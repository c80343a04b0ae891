// ABOUTME: Store methods for tenants and provisioning of WA accounts/numbers.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateTenant inserts a tenant and returns its id.
func (s *Store) CreateTenant(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, name,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create tenant: %w", err)
	}
	return id, nil
}

// CreateWAAccount binds a WhatsApp Business account (WABA) to a tenant.
func (s *Store) CreateWAAccount(ctx context.Context, tenantID uuid.UUID, wabaID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wa_accounts (tenant_id, waba_id, name)
		VALUES ($1, $2, $3) RETURNING id`,
		tenantID, wabaID, name,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create wa account: %w", err)
	}
	return id, nil
}

// CreateWANumber registers a provider phone number under a tenant.
func (s *Store) CreateWANumber(ctx context.Context, tenantID uuid.UUID, waAccountID *uuid.UUID, phoneNumberID, displayNumber string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wa_numbers (tenant_id, wa_account_id, phone_number_id, display_number)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		tenantID, waAccountID, phoneNumberID, displayNumber,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create wa number: %w", err)
	}
	return id, nil
}
