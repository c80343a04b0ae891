// ABOUTME: Store methods for workflows and their append-only run records.
// ABOUTME: Run records hold the ordered per-action outcome log for observability.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workflow is one row of the workflows table. Rules is the trigger/conditions/
// actions document evaluated by the workflow handler.
type Workflow struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	IsEnabled bool
	Rules     json.RawMessage
	CreatedAt time.Time
}

// ListEnabledWorkflows returns all enabled workflows for a tenant.
func (s *Store) ListEnabledWorkflows(ctx context.Context, tenantID uuid.UUID) ([]Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, is_enabled, rules, created_at
		FROM workflows
		WHERE tenant_id = $1 AND is_enabled`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list enabled workflows: %w", err)
	}
	defer rows.Close()

	var wfs []Workflow
	for rows.Next() {
		var w Workflow
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name, &w.IsEnabled, &w.Rules, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wfs = append(wfs, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enabled workflows: %w", err)
	}
	return wfs, nil
}

// InsertWorkflowRun records one workflow evaluation with its ordered
// per-action outcome log. Append-only.
func (s *Store) InsertWorkflowRun(ctx context.Context, tenantID, workflowID uuid.UUID, triggerEvent, status string, log json.RawMessage) error {
	if log == nil {
		log = json.RawMessage(`[]`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (tenant_id, workflow_id, trigger_event, status, log)
		VALUES ($1, $2, $3, $4, $5)`,
		tenantID, workflowID, triggerEvent, status, log)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// CreateWorkflow inserts a workflow. Mostly used by tests and seed tooling;
// the dashboard owns workflow CRUD in production.
func (s *Store) CreateWorkflow(ctx context.Context, tenantID uuid.UUID, name string, enabled bool, rules json.RawMessage) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO workflows (tenant_id, name, is_enabled, rules)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		tenantID, name, enabled, rules,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create workflow: %w", err)
	}
	return id, nil
}
