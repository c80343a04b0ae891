// ABOUTME: Store methods for webhook endpoints and the append-only delivery log.
// ABOUTME: Delivery rows are written by both the sync test path and the dispatcher.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// WebhookEndpoint is a customer-configured delivery target.
type WebhookEndpoint struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	URL        string
	SecretHash *string
	Events     []string
	IsEnabled  bool
	CreatedAt  time.Time
}

// WebhookDelivery is one row of the append-only outcome log.
type WebhookDelivery struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	WebhookEndpointID uuid.UUID
	EventType         string
	Payload           json.RawMessage
	StatusCode        *int32
	Success           bool
	Attempts          int32
	LastError         *string
	CreatedAt         time.Time
}

// CreateWebhookEndpointParams holds the fields for creating an endpoint.
type CreateWebhookEndpointParams struct {
	TenantID   uuid.UUID
	URL        string
	SecretHash *string
	Events     []string
}

// CreateWebhookEndpoint inserts a new enabled endpoint and returns it.
func (s *Store) CreateWebhookEndpoint(ctx context.Context, p CreateWebhookEndpointParams) (*WebhookEndpoint, error) {
	events := p.Events
	if events == nil {
		events = []string{}
	}
	ep := WebhookEndpoint{
		TenantID:   p.TenantID,
		URL:        p.URL,
		SecretHash: p.SecretHash,
		Events:     events,
		IsEnabled:  true,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (tenant_id, url, secret_hash, events)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		p.TenantID, p.URL, p.SecretHash, events,
	).Scan(&ep.ID, &ep.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create webhook endpoint: %w", err)
	}
	return &ep, nil
}

// GetWebhookEndpoint returns the endpoint with the given id, or nil if it does
// not exist. tenantID narrows the lookup when non-nil (API paths); the
// dispatcher passes uuid.Nil since the job row already carries the tenant.
func (s *Store) GetWebhookEndpoint(ctx context.Context, id, tenantID uuid.UUID) (*WebhookEndpoint, error) {
	q := `SELECT id, tenant_id, url, secret_hash, events, is_enabled, created_at
	      FROM webhook_endpoints WHERE id = $1`
	args := []any{id}
	if tenantID != uuid.Nil {
		q += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}

	var ep WebhookEndpoint
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&ep.ID, &ep.TenantID, &ep.URL, &ep.SecretHash, &ep.Events, &ep.IsEnabled, &ep.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook endpoint: %w", err)
	}
	return &ep, nil
}

// ListWebhookEndpoints returns all endpoints for a tenant, newest first.
func (s *Store) ListWebhookEndpoints(ctx context.Context, tenantID uuid.UUID) ([]WebhookEndpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, url, secret_hash, events, is_enabled, created_at
		FROM webhook_endpoints
		WHERE tenant_id = $1
		ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var eps []WebhookEndpoint
	for rows.Next() {
		var ep WebhookEndpoint
		if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.SecretHash,
			&ep.Events, &ep.IsEnabled, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		eps = append(eps, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	return eps, nil
}

// ListEnabledWebhookEndpoints returns the ids of all enabled endpoints for a
// tenant. Used by the inbound receiver to fan out WEBHOOK_DELIVERY jobs.
func (s *Store) ListEnabledWebhookEndpoints(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM webhook_endpoints
		WHERE tenant_id = $1 AND is_enabled`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhook endpoints: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan endpoint id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateWebhookEndpointParams holds the optional fields of an endpoint update;
// nil fields are left unchanged.
type UpdateWebhookEndpointParams struct {
	URL       *string
	Events    []string
	IsEnabled *bool
}

// UpdateWebhookEndpoint applies the non-nil fields of p to the endpoint.
func (s *Store) UpdateWebhookEndpoint(ctx context.Context, id, tenantID uuid.UUID, p UpdateWebhookEndpointParams) error {
	b := psql.Update("webhook_endpoints").
		Where(sq.Eq{"id": id, "tenant_id": tenantID})
	changed := false
	if p.URL != nil {
		b = b.Set("url", *p.URL)
		changed = true
	}
	if p.Events != nil {
		b = b.Set("events", p.Events)
		changed = true
	}
	if p.IsEnabled != nil {
		b = b.Set("is_enabled", *p.IsEnabled)
		changed = true
	}
	if !changed {
		return nil
	}

	q, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build endpoint update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	return nil
}

// DeleteWebhookEndpoint removes an endpoint and its delivery history.
func (s *Store) DeleteWebhookEndpoint(ctx context.Context, id, tenantID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_endpoints WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	return nil
}

// InsertWebhookDeliveryParams holds the fields of one delivery outcome row.
type InsertWebhookDeliveryParams struct {
	TenantID          uuid.UUID
	WebhookEndpointID uuid.UUID
	EventType         string
	Payload           json.RawMessage
	StatusCode        *int32
	Success           bool
	Attempts          int32
	LastError         *string
}

// InsertWebhookDelivery appends one delivery outcome row. Rows are never
// mutated after insert; retries append new rows.
func (s *Store) InsertWebhookDelivery(ctx context.Context, p InsertWebhookDeliveryParams) error {
	payload := p.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries
			(tenant_id, webhook_endpoint_id, event_type, payload, status_code, success, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.TenantID, p.WebhookEndpointID, p.EventType, payload,
		p.StatusCode, p.Success, p.Attempts, p.LastError)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// ListWebhookDeliveriesParams holds optional filters for the delivery history.
type ListWebhookDeliveriesParams struct {
	EndpointID *uuid.UUID
	EventType  *string
	Success    *bool
	Limit      int
}

// ListWebhookDeliveries returns delivery rows for a tenant, newest first,
// with optional endpoint / event-type / success filters.
func (s *Store) ListWebhookDeliveries(ctx context.Context, tenantID uuid.UUID, p ListWebhookDeliveriesParams) ([]WebhookDelivery, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	b := psql.Select("id", "tenant_id", "webhook_endpoint_id", "event_type",
		"payload", "status_code", "success", "attempts", "last_error", "created_at").
		From("webhook_deliveries").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if p.EndpointID != nil {
		b = b.Where(sq.Eq{"webhook_endpoint_id": *p.EndpointID})
	}
	if p.EventType != nil {
		b = b.Where(sq.Eq{"event_type": *p.EventType})
	}
	if p.Success != nil {
		b = b.Where(sq.Eq{"success": *p.Success})
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delivery list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var dels []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.WebhookEndpointID, &d.EventType,
			&d.Payload, &d.StatusCode, &d.Success, &d.Attempts, &d.LastError,
			&d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		dels = append(dels, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	return dels, nil
}
