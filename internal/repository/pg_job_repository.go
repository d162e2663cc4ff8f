package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evidencehq/litsearch/internal/domain"
)

// Compile-time interface verification.
var _ JobQueue = (*PgJobQueue)(nil)

// PgJobQueue is a PostgreSQL implementation of JobQueue. Each operation is
// one conditional statement, so atomicity comes from the database rather
// than from application-level locking.
type PgJobQueue struct {
	db DBTX
}

// NewPgJobQueue creates a new PostgreSQL job queue.
func NewPgJobQueue(db DBTX) *PgJobQueue {
	return &PgJobQueue{db: db}
}

const jobColumns = `id, report_id, stage, provider, payload, status,
		attempts, max_attempts, dedupe_key, lease_owner, lease_expires_at,
		last_error, created_at, updated_at`

// Enqueue inserts a queued job, idempotent on the dedupe key: when the key
// already exists the pre-existing job is returned unchanged and no new row
// is created.
func (q *PgJobQueue) Enqueue(ctx context.Context, params EnqueueParams) (*domain.Job, error) {
	if params.ReportID == uuid.Nil {
		return nil, domain.NewValidationError("report_id", "report ID is required")
	}
	if params.DedupeKey == "" {
		return nil, domain.NewValidationError("dedupe_key", "dedupe key is required")
	}
	if params.MaxAttempts < 1 {
		return nil, domain.NewValidationError("max_attempts", "max attempts must be at least 1")
	}

	payload := params.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	now := time.Now().UTC()
	insertQuery := `
		INSERT INTO jobs (
			id, report_id, stage, provider, payload, status,
			attempts, max_attempts, dedupe_key, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			0, $7, $8, $9, $9
		)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING ` + jobColumns

	row := q.db.QueryRow(ctx, insertQuery,
		uuid.New(), params.ReportID, params.Stage, params.Provider, payload,
		domain.JobStatusQueued, params.MaxAttempts, params.DedupeKey, now,
	)

	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	// Conflict path: the key exists, return the existing row.
	selectQuery := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE dedupe_key = $1`

	job, err = scanJob(q.db.QueryRow(ctx, selectQuery, params.DedupeKey))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch existing job for dedupe key: %w", err)
	}

	return job, nil
}

// Claim leases up to batchSize claimable jobs in one atomic statement.
// FOR UPDATE SKIP LOCKED guarantees that concurrent claimers select
// disjoint row sets; a lease that expired without completion makes the job
// claimable again, counting the new claim as a fresh attempt.
func (q *PgJobQueue) Claim(ctx context.Context, workerID string, batchSize int, lease time.Duration) ([]domain.Job, error) {
	if workerID == "" {
		return nil, domain.NewValidationError("worker_id", "worker ID is required")
	}
	if batchSize < 1 {
		return nil, domain.NewValidationError("batch_size", "batch size must be at least 1")
	}
	if lease <= 0 {
		return nil, domain.NewValidationError("lease", "lease duration must be positive")
	}

	query := `
		UPDATE jobs
		SET status = $1,
			lease_owner = $2,
			lease_expires_at = now() + make_interval(secs => $3),
			attempts = attempts + 1,
			updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $4
			   OR (status = $1 AND lease_expires_at < now())
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := q.db.Query(ctx, query,
		domain.JobStatusLeased, workerID, lease.Seconds(),
		domain.JobStatusQueued, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed jobs: %w", err)
	}

	return jobs, nil
}

// Complete transitions a leased job to completed, verifying that the caller
// still holds an unexpired lease.
func (q *PgJobQueue) Complete(ctx context.Context, jobID uuid.UUID, workerID string) error {
	query := `
		UPDATE jobs
		SET status = $1, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $2
		  AND status = $3
		  AND lease_owner = $4
		  AND lease_expires_at > now()`

	result, err := q.db.Exec(ctx, query,
		domain.JobStatusCompleted, jobID, domain.JobStatusLeased, workerID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: %w", jobID, domain.ErrLeaseLost)
	}

	return nil
}

// Fail records a failed attempt on a job the caller leases. The attempt was
// already counted at claim time, so the job moves to dead once attempts
// have reached max_attempts, and otherwise returns to queued for re-claim.
func (q *PgJobQueue) Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN $1 ELSE $2 END,
			lease_owner = NULL,
			lease_expires_at = NULL,
			last_error = $3,
			updated_at = now()
		WHERE id = $4
		  AND status = $5
		  AND lease_owner = $6
		RETURNING ` + jobColumns

	row := q.db.QueryRow(ctx, query,
		domain.JobStatusDead, domain.JobStatusQueued, cause,
		jobID, domain.JobStatusLeased, workerID,
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("fail job %s: %w", jobID, domain.ErrLeaseLost)
		}
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}

	return job, nil
}

// scanJob scans a single row into a Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID, &job.ReportID, &job.Stage, &job.Provider, &job.Payload, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.DedupeKey, &job.LeaseOwner, &job.LeaseExpiresAt,
		&job.LastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
