// ABOUTME: Integration tests for job_queue lease, retry, and reclaim semantics.
package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/al-azab/souq-chat/internal/store"
	"github.com/al-azab/souq-chat/internal/testutil"
)

func TestClaimJobIsExclusive(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	id, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID,
		JobType:  store.JobSendMessage,
		Payload:  json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := st.ClaimJob(ctx, id, "worker_a")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first == nil {
		t.Fatal("first claim lost the race on an unclaimed job")
	}
	if first.Attempts != 1 {
		t.Errorf("attempts after claim = %d, want 1", first.Attempts)
	}
	if first.LockedBy == nil || *first.LockedBy != "worker_a" {
		t.Errorf("locked_by = %v, want worker_a", first.LockedBy)
	}

	second, err := st.ClaimJob(ctx, id, "worker_b")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Error("second claim succeeded on an already-claimed job")
	}
}

func TestListEligibleJobsFiltersAndOrders(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	// Due later: not eligible yet.
	future := time.Now().Add(time.Hour)
	if _, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobSendMessage, RunAfter: &future,
	}); err != nil {
		t.Fatalf("enqueue future: %v", err)
	}

	// Due now, enqueued with staggered run_after to check ordering.
	older := time.Now().Add(-2 * time.Minute)
	newer := time.Now().Add(-1 * time.Minute)
	newerID, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobWorkflowRun, RunAfter: &newer,
	})
	if err != nil {
		t.Fatalf("enqueue newer: %v", err)
	}
	olderID, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobWebhookDelivery, RunAfter: &older,
	})
	if err != nil {
		t.Fatalf("enqueue older: %v", err)
	}

	// Claimed: not eligible.
	claimedID, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobMediaProcess, RunAfter: &older,
	})
	if err != nil {
		t.Fatalf("enqueue claimed: %v", err)
	}
	if _, err := st.ClaimJob(ctx, claimedID, "worker_x"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	jobs, err := st.ListEligibleJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("eligible jobs = %d, want 2", len(jobs))
	}
	if jobs[0].ID != olderID || jobs[1].ID != newerID {
		t.Errorf("order = [%d, %d], want [%d, %d] (run_after asc)",
			jobs[0].ID, jobs[1].ID, olderID, newerID)
	}
}

func TestRescheduleJobClearsLease(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	id, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobSendMessage,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.ClaimJob(ctx, id, "worker_a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	runAfter := time.Now().Add(time.Minute)
	if err := st.RescheduleJob(ctx, id, runAfter, "provider returned 500"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	job, err := st.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job == nil {
		t.Fatal("rescheduled job vanished")
	}
	if job.LockedAt != nil || job.LockedBy != nil {
		t.Error("lease not cleared on reschedule")
	}
	if job.LastError == nil || *job.LastError != "provider returned 500" {
		t.Errorf("last_error = %v, want provider error text", job.LastError)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (claim increment preserved)", job.Attempts)
	}
	if d := job.RunAfter.Sub(runAfter).Abs(); d > time.Second {
		t.Errorf("run_after off by %v", d)
	}
}

func TestDropExhaustedJobWritesAudit(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	id, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobTemplateSync, MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := st.ClaimJob(ctx, id, "worker_a")
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	if err := st.DropExhaustedJob(ctx, job, "catalog fetch failed"); err != nil {
		t.Fatalf("drop exhausted: %v", err)
	}

	if got, err := st.GetJob(ctx, id); err != nil || got != nil {
		t.Errorf("job after drop = %v (err %v), want nil", got, err)
	}

	logs, err := st.ListAuditLogs(ctx, tenant.ID, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("audit rows = %d, want exactly 1", len(logs))
	}
	entry := logs[0]
	if entry.Action != "JOB_FAILED_PERMANENTLY" {
		t.Errorf("action = %q, want JOB_FAILED_PERMANENTLY", entry.Action)
	}
	var meta struct {
		JobType   string `json:"job_type"`
		Attempts  int32  `json:"attempts"`
		LastError string `json:"last_error"`
	}
	if err := json.Unmarshal(entry.Meta, &meta); err != nil {
		t.Fatalf("decode audit meta: %v", err)
	}
	if meta.JobType != store.JobTemplateSync || meta.Attempts != 1 || meta.LastError != "catalog fetch failed" {
		t.Errorf("audit meta = %+v", meta)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	id, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobWorkflowRun,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.ClaimJob(ctx, id, "dead_worker"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Fresh lease: nothing to reclaim.
	n, err := st.ReclaimExpiredLeases(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed %d jobs under a live lease, want 0", n)
	}

	// Age the lease past the timeout.
	if _, err := st.Pool().Exec(ctx,
		`UPDATE job_queue SET locked_at = now() - interval '11 minutes' WHERE id = $1`, id); err != nil {
		t.Fatalf("age lease: %v", err)
	}

	n, err = st.ReclaimExpiredLeases(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	job, err := st.GetJob(ctx, id)
	if err != nil || job == nil {
		t.Fatalf("get job: job=%v err=%v", job, err)
	}
	if job.LockedAt != nil || job.LockedBy != nil {
		t.Error("lease not cleared by reclaim")
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (dead run stays counted)", job.Attempts)
	}
}

func TestEnqueueJobDefaults(t *testing.T) {
	st := testutil.NewTestDB(t)
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, st)

	id, err := st.EnqueueJob(ctx, store.EnqueueJobParams{
		TenantID: tenant.ID, JobType: store.JobSendMessage,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := st.GetJob(ctx, id)
	if err != nil || job == nil {
		t.Fatalf("get job: job=%v err=%v", job, err)
	}
	if job.MaxAttempts != 10 {
		t.Errorf("max_attempts = %d, want default 10", job.MaxAttempts)
	}
	if string(job.Payload) != "{}" {
		t.Errorf("payload = %s, want {}", job.Payload)
	}
	if time.Since(job.RunAfter) > time.Minute {
		t.Errorf("run_after = %v, want approximately now", job.RunAfter)
	}
}
