package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evidencehq/litsearch/internal/domain"
)

// EnqueueParams are the inputs to JobQueue.Enqueue.
type EnqueueParams struct {
	// ReportID correlates the job with its owning search.
	ReportID uuid.UUID
	// Stage identifies the unit of work.
	Stage domain.JobStage
	// Provider scopes provider-specific jobs; empty for pipeline jobs.
	Provider string
	// Payload carries opaque task parameters as JSON.
	Payload []byte
	// DedupeKey makes the enqueue idempotent: re-enqueue of an existing
	// key returns the existing job unchanged.
	DedupeKey string
	// MaxAttempts bounds retries before the job moves to dead.
	MaxAttempts int
}

// JobQueue is the lease-based task-distribution mechanism shared across
// workers. The jobs table is the single shared mutable resource; every
// mutation goes through these four operations as one atomic statement each,
// never through read-then-write from worker code.
type JobQueue interface {
	// Enqueue inserts a queued job, or returns the pre-existing job
	// unchanged when the dedupe key is already present.
	Enqueue(ctx context.Context, params EnqueueParams) (*domain.Job, error)

	// Claim atomically leases up to batchSize jobs that are queued or hold
	// an expired lease. Concurrent claimers never receive overlapping job
	// sets. The claim counts as an attempt.
	Claim(ctx context.Context, workerID string, batchSize int, lease time.Duration) ([]domain.Job, error)

	// Complete transitions a job the caller leases to completed. Returns
	// an error wrapping domain.ErrLeaseLost when the caller no longer
	// holds an unexpired lease on the job.
	Complete(ctx context.Context, jobID uuid.UUID, workerID string) error

	// Fail records a failed attempt: the job returns to queued while
	// attempts remain, otherwise it moves to dead. The updated job is
	// returned so callers can react to exhaustion. Returns an error
	// wrapping domain.ErrLeaseLost when the caller does not lease the job.
	Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause string) (*domain.Job, error)
}
