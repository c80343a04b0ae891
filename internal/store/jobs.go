// ABOUTME: Store methods for the job_queue work table: enqueue, lease, retry, reclaim.
// ABOUTME: Claiming is a compare-and-swap on locked_at; zero rows affected means lost race.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job type tags. The set is closed: the dispatcher drains unknown tags
// without executing them.
const (
	JobWebhookDelivery = "WEBHOOK_DELIVERY"
	JobMediaProcess    = "MEDIA_PROCESS"
	JobWorkflowRun     = "WORKFLOW_RUN"
	JobTemplateSync    = "TEMPLATE_SYNC"
	JobSendMessage     = "SEND_MESSAGE"
)

// KnownJobType reports whether jobType belongs to the closed job tag set.
func KnownJobType(jobType string) bool {
	switch jobType {
	case JobWebhookDelivery, JobMediaProcess, JobWorkflowRun, JobTemplateSync, JobSendMessage:
		return true
	}
	return false
}

// Job is one row of the job_queue table.
type Job struct {
	ID          int64
	TenantID    uuid.UUID
	JobType     string
	Payload     json.RawMessage
	RunAfter    time.Time
	Attempts    int32
	MaxAttempts int32
	LockedAt    *time.Time
	LockedBy    *string
	LastError   *string
	CreatedAt   time.Time
}

// EnqueueJobParams holds the fields for creating a job. RunAfter defaults to
// now() when nil; MaxAttempts defaults to 10 when zero.
type EnqueueJobParams struct {
	TenantID    uuid.UUID
	JobType     string
	Payload     json.RawMessage
	RunAfter    *time.Time
	MaxAttempts int32
}

// EnqueueJob inserts a new job and returns its id.
func (s *Store) EnqueueJob(ctx context.Context, p EnqueueJobParams) (int64, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 10
	}
	payload := p.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO job_queue (tenant_id, job_type, payload, run_after, max_attempts)
		VALUES ($1, $2, $3, COALESCE($4, now()), $5)
		RETURNING id`,
		p.TenantID, p.JobType, payload, p.RunAfter, p.MaxAttempts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// ListEligibleJobs returns up to limit unclaimed jobs that are due to run,
// oldest run_after first. Candidates only: each row still has to be claimed
// individually with ClaimJob, which may lose the race to another worker.
func (s *Store) ListEligibleJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, job_type, payload, run_after, attempts, max_attempts,
		       locked_at, locked_by, last_error, created_at
		FROM job_queue
		WHERE locked_at IS NULL AND run_after <= now() AND attempts < max_attempts
		ORDER BY run_after ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.JobType, &j.Payload, &j.RunAfter,
			&j.Attempts, &j.MaxAttempts, &j.LockedAt, &j.LockedBy, &j.LastError,
			&j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list eligible jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob attempts to lease job id for workerID. The update is guarded by
// locked_at IS NULL so at most one concurrent caller wins; the loser gets
// (nil, nil) and must skip the job silently.
//
// Attempts is incremented as part of the claim, before the handler runs, so a
// crash mid-handler still counts as an attempt.
func (s *Store) ClaimJob(ctx context.Context, id int64, workerID string) (*Job, error) {
	var j Job
	err := s.pool.QueryRow(ctx, `
		UPDATE job_queue
		SET locked_at = now(), locked_by = $2, attempts = attempts + 1
		WHERE id = $1 AND locked_at IS NULL
		RETURNING id, tenant_id, job_type, payload, run_after, attempts, max_attempts,
		          locked_at, locked_by, last_error, created_at`,
		id, workerID,
	).Scan(&j.ID, &j.TenantID, &j.JobType, &j.Payload, &j.RunAfter,
		&j.Attempts, &j.MaxAttempts, &j.LockedAt, &j.LockedBy, &j.LastError,
		&j.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // another worker won the race
		}
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}
	return &j, nil
}

// DeleteJob removes a job row. Used both for success (the queue holds no
// history) and for permanent failure after the audit entry is written.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM job_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	return nil
}

// RescheduleJob clears the lease and schedules the next retry at runAfter,
// recording lastError for diagnostics.
func (s *Store) RescheduleJob(ctx context.Context, id int64, runAfter time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_queue
		SET locked_at = NULL, locked_by = NULL, run_after = $2, last_error = $3
		WHERE id = $1`,
		id, runAfter, lastError)
	if err != nil {
		return fmt.Errorf("reschedule job %d: %w", id, err)
	}
	return nil
}

// DropExhaustedJob deletes an exhausted job and writes the permanent-failure
// audit entry in one transaction, so exactly one audit row exists per dropped
// job even if the dispatcher crashes between the two writes.
func (s *Store) DropExhaustedJob(ctx context.Context, job *Job, lastError string) error {
	meta, err := json.Marshal(map[string]any{
		"job_type":   job.JobType,
		"attempts":   job.Attempts,
		"last_error": lastError,
	})
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM job_queue WHERE id = $1`, job.ID); err != nil {
			return fmt.Errorf("delete job %d: %w", job.ID, err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO audit_logs (tenant_id, action, entity, meta)
			VALUES ($1, 'JOB_FAILED_PERMANENTLY', 'job_queue', $2)`,
			job.TenantID, meta)
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop exhausted job: %w", err)
	}
	return nil
}

// ReclaimExpiredLeases clears leases older than leaseTimeout so jobs held by a
// crashed or hung worker become eligible again. The attempts spent on the dead
// run stay counted. Returns the number of reclaimed jobs.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_queue
		SET locked_at = NULL, locked_by = NULL
		WHERE locked_at IS NOT NULL AND locked_at < now() - $1::interval`,
		leaseTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetJob returns the job row with the given id, or nil if it no longer exists.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	var j Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, job_type, payload, run_after, attempts, max_attempts,
		       locked_at, locked_by, last_error, created_at
		FROM job_queue WHERE id = $1`, id,
	).Scan(&j.ID, &j.TenantID, &j.JobType, &j.Payload, &j.RunAfter,
		&j.Attempts, &j.MaxAttempts, &j.LockedAt, &j.LockedBy, &j.LastError,
		&j.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return &j, nil
}
