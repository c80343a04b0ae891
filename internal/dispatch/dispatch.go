// Package dispatch drives the job_queue work table: it claims bounded batches
// of eligible jobs with a row-level compare-and-swap lease, executes the
// registered handler for each job on its own goroutine, and applies the
// retry/backoff/quarantine policy.
//
// All retry state lives in the job row, never in memory, so any number of
// dispatcher processes may run concurrently: overlapping invocations partition
// work through the claim predicate. Handlers signal failure only by returning
// an error; every other outcome is success.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/al-azab/souq-chat/internal/store"
)

// Handler executes one claimed job. A non-nil return triggers the dispatcher's
// backoff/quarantine path; a nil return deletes the job.
type Handler func(ctx context.Context, job *store.Job) error

// Config holds dispatcher tuning parameters (sourced from config.Config).
type Config struct {
	BatchSize      int
	HandlerTimeout time.Duration // per-job execution ceiling
	LeaseTimeout   time.Duration // locked_at older than this is reclaimed
}

// JobResult is the per-job outcome reported in a batch summary.
type JobResult struct {
	JobID   int64  `json:"job_id"`
	JobType string `json:"job_type"`
	Status  string `json:"status"` // "completed" or "failed"
	Error   string `json:"error,omitempty"`
}

// Summary reports one dispatch batch.
type Summary struct {
	Processed int         `json:"processed"`
	Results   []JobResult `json:"results"`
}

var jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "souq_jobs_processed_total",
	Help: "Jobs processed by the dispatcher, by job type and outcome.",
}, []string{"job_type", "status"})

// Dispatcher claims and executes jobs from the job_queue table.
type Dispatcher struct {
	st       *store.Store
	cfg      Config
	workerID string
	log      *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates a Dispatcher backed by st. A random workerID is generated at
// construction time to distinguish this process in the locked_by column.
func New(st *store.Store, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}
	return &Dispatcher{
		st:       st,
		cfg:      cfg,
		workerID: "worker_" + uuid.New().String(),
		log:      slog.Default(),
		handlers: make(map[string]Handler),
	}
}

// Register associates h with the given job type tag. Must be called before
// RunBatch or Loop.
func (d *Dispatcher) Register(jobType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = h
}

// RunBatch processes one bounded batch: reclaims expired leases, claims up to
// BatchSize eligible jobs, and runs each claimed job's handler on its own
// goroutine so one slow external call does not stall the rest of the batch.
// Returns a summary of the jobs actually claimed and their outcomes.
func (d *Dispatcher) RunBatch(ctx context.Context) (*Summary, error) {
	// Jobs held by a crashed or hung worker become eligible again after the
	// lease timeout; the attempt spent on the dead run stays counted.
	if n, err := d.st.ReclaimExpiredLeases(ctx, d.cfg.LeaseTimeout); err != nil {
		d.log.Error("reclaim expired leases", "error", err)
	} else if n > 0 {
		d.log.Warn("reclaimed expired job leases", "count", n, "lease_timeout", d.cfg.LeaseTimeout)
	}

	candidates, err := d.st.ListEligibleJobs(ctx, d.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list eligible jobs: %w", err)
	}
	if len(candidates) == 0 {
		return &Summary{Results: []JobResult{}}, nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []JobResult
	)
	for _, candidate := range candidates {
		job, err := d.st.ClaimJob(ctx, candidate.ID, d.workerID)
		if err != nil {
			d.log.Error("claim job", "job_id", candidate.ID, "error", err)
			continue
		}
		if job == nil {
			continue // another worker won the race; not an error
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			res := d.execute(ctx, job)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return &Summary{Processed: len(results), Results: results}, nil
}

// execute runs one claimed job to completion and applies the success/failure
// bookkeeping. Always returns a result; store errors during bookkeeping are
// logged and leave the job to the lease-expiry reclaim path.
func (d *Dispatcher) execute(ctx context.Context, job *store.Job) JobResult {
	res := JobResult{JobID: job.ID, JobType: job.JobType, Status: "completed"}

	err := d.runHandler(ctx, job)
	if err == nil {
		// Success: delete the row. The queue holds only pending/in-flight work.
		if delErr := d.st.DeleteJob(ctx, job.ID); delErr != nil {
			d.log.Error("delete completed job", "job_id", job.ID, "error", delErr)
		}
		jobsProcessed.WithLabelValues(job.JobType, "completed").Inc()
		return res
	}

	res.Status = "failed"
	res.Error = err.Error()
	d.log.Error("job handler failed",
		"job_id", job.ID, "job_type", job.JobType, "tenant_id", job.TenantID,
		"attempts", job.Attempts, "error", err)

	if job.Attempts >= job.MaxAttempts {
		// Exhausted: drop the job and leave a permanent-failure audit entry.
		if dropErr := d.st.DropExhaustedJob(ctx, job, err.Error()); dropErr != nil {
			d.log.Error("drop exhausted job", "job_id", job.ID, "error", dropErr)
		}
		jobsProcessed.WithLabelValues(job.JobType, "exhausted").Inc()
		return res
	}

	runAfter := time.Now().Add(Backoff(job.Attempts))
	if rsErr := d.st.RescheduleJob(ctx, job.ID, runAfter, err.Error()); rsErr != nil {
		d.log.Error("reschedule job", "job_id", job.ID, "error", rsErr)
	}
	jobsProcessed.WithLabelValues(job.JobType, "failed").Inc()
	return res
}

// runHandler dispatches to the handler registered for the job type under the
// per-handler timeout. Unknown job types are drained without execution: stale
// tags must not accumulate in the queue.
func (d *Dispatcher) runHandler(ctx context.Context, job *store.Job) error {
	d.mu.RLock()
	h := d.handlers[job.JobType]
	d.mu.RUnlock()

	if h == nil {
		d.log.Warn("unknown job type, draining", "job_id", job.ID, "job_type", job.JobType)
		return nil
	}

	hctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()
	return h(hctx, job)
}

// Loop runs batches on a fixed poll interval until ctx is cancelled. Uses
// time.NewTicker (not time.After) to avoid timer leaks.
func (d *Dispatcher) Loop(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	d.log.Info("dispatcher started", "worker_id", d.workerID, "poll_interval", pollInterval)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping", "worker_id", d.workerID)
			return
		case <-ticker.C:
			if _, err := d.RunBatch(ctx); err != nil {
				d.log.Error("dispatch batch", "error", err)
			}
		}
	}
}

// Backoff returns the retry delay after the given number of attempts:
// min(2^attempts * 30s, 1h). Attempts is the post-claim value, so the first
// retry waits 60s, the second 120s, and so on up to the one-hour cap.
func Backoff(attempts int32) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^7 * 30s > 1h, so anything past 7 is already capped; shifting further
	// would overflow for large attempt counts.
	if attempts > 7 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempts)) * 30 * time.Second
	if delay > time.Hour {
		return time.Hour
	}
	return delay
}
