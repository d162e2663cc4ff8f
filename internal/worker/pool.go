// Package worker runs the lease-based job loop. Any number of pool
// processes can point at the same jobs table; the queue's atomic claim
// guarantees they never execute the same job twice inside one lease.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/config"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/events"
	"github.com/evidencehq/litsearch/internal/observability"
	"github.com/evidencehq/litsearch/internal/repository"
)

// Runner executes one claimed job. A nil return completes the job; an error
// fails the attempt and the queue decides between retry and dead.
type Runner interface {
	Run(ctx context.Context, job *domain.Job) error
}

// DrainResult summarizes one claim-and-execute pass.
type DrainResult struct {
	WorkerID  string   `json:"worker_id"`
	Claimed   int      `json:"claimed"`
	Completed int      `json:"completed"`
	Retried   int      `json:"retried"`
	Dead      int      `json:"dead"`
	Failures  []string `json:"failures,omitempty"`
}

// Pool polls the job queue and executes claimed jobs through the Runner.
type Pool struct {
	cfg      config.QueueConfig
	queue    repository.JobQueue
	searches repository.SearchRepository
	runner   Runner
	events   *events.Publisher
	baseID   string
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewPool creates a worker pool. publisher may be a disabled publisher;
// metrics may be nil in tests.
func NewPool(cfg config.QueueConfig, queue repository.JobQueue, searches repository.SearchRepository, runner Runner, publisher *events.Publisher, logger zerolog.Logger, metrics *observability.Metrics) *Pool {
	return &Pool{
		cfg:      cfg,
		queue:    queue,
		searches: searches,
		runner:   runner,
		events:   publisher,
		baseID:   defaultWorkerID(),
		logger:   logger.With().Str("component", "worker_pool").Logger(),
		metrics:  metrics,
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// Start runs the configured number of polling workers until the context is
// canceled. It blocks; run it from a goroutine or as the process main loop.
func (p *Pool) Start(ctx context.Context) {
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	p.logger.Info().
		Int("workers", workers).
		Dur("poll_interval", p.cfg.PollInterval).
		Dur("lease", p.cfg.LeaseDuration).
		Msg("worker pool starting")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.baseID, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		result, err := p.DrainOnce(ctx, workerID)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error().Err(err).Str("worker_id", workerID).Msg("drain pass failed")
		}

		if ctx.Err() != nil {
			return
		}
		if err == nil && result.Claimed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// DrainOnce claims one batch of jobs for workerID and executes each claimed
// job to a terminal per-attempt outcome. It is the shared engine behind the
// polling loop and the drain endpoint.
func (p *Pool) DrainOnce(ctx context.Context, workerID string) (DrainResult, error) {
	return p.DrainBatch(ctx, workerID, p.cfg.BatchSize)
}

// DrainBatch is DrainOnce with an explicit claim size. A non-positive
// batchSize falls back to the configured batch size.
func (p *Pool) DrainBatch(ctx context.Context, workerID string, batchSize int) (DrainResult, error) {
	if workerID == "" {
		workerID = p.baseID
	}
	if batchSize <= 0 {
		batchSize = p.cfg.BatchSize
	}
	result := DrainResult{WorkerID: workerID}

	jobs, err := p.queue.Claim(ctx, workerID, batchSize, p.cfg.LeaseDuration)
	if err != nil {
		return result, fmt.Errorf("claiming jobs: %w", err)
	}
	result.Claimed = len(jobs)

	for i := range jobs {
		job := &jobs[i]
		if p.metrics != nil {
			p.metrics.RecordJobClaimed(string(job.Stage), time.Since(job.CreatedAt))
		}
		p.executeOne(ctx, workerID, job, &result)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}
	return result, nil
}

func (p *Pool) executeOne(ctx context.Context, workerID string, job *domain.Job, result *DrainResult) {
	logger := p.logger.With().
		Str("worker_id", workerID).
		Str("job_id", job.ID.String()).
		Str("stage", string(job.Stage)).
		Int("attempt", job.Attempts).
		Logger()

	start := time.Now()
	runErr := p.runner.Run(ctx, job)
	if runErr == nil {
		if err := p.queue.Complete(ctx, job.ID, workerID); err != nil {
			// The work itself succeeded; a lost lease means another worker
			// may re-run the job, which the pipeline tolerates.
			logger.Warn().Err(err).Msg("job finished but completion was not recorded")
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", job.ID, err))
			return
		}
		if p.metrics != nil {
			p.metrics.RecordJobCompleted(string(job.Stage), time.Since(start))
		}
		result.Completed++
		logger.Info().Dur("duration", time.Since(start)).Msg("job completed")
		return
	}

	result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", job.ID, runErr))
	failed, failErr := p.queue.Fail(ctx, job.ID, workerID, truncateError(runErr))
	if failErr != nil {
		logger.Error().Err(failErr).AnErr("run_error", runErr).Msg("recording job failure failed")
		return
	}

	if failed.Status == domain.JobStatusDead {
		result.Dead++
		if p.metrics != nil {
			p.metrics.RecordJobDead(string(job.Stage))
		}
		logger.Error().Err(runErr).Int("attempts", failed.Attempts).Msg("job exhausted attempts, moved to dead")
		p.failOwningSearch(ctx, failed, runErr)
		return
	}

	result.Retried++
	if p.metrics != nil {
		p.metrics.RecordJobRetried(string(job.Stage))
	}
	logger.Warn().Err(runErr).Int("attempts", failed.Attempts).Msg("job failed, returned to queue")
}

// failOwningSearch propagates a dead job's last error to the search that
// owns it, so the user-visible status reflects the exhausted run.
func (p *Pool) failOwningSearch(ctx context.Context, job *domain.Job, runErr error) {
	var payload domain.PipelinePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.SearchID == uuid.Nil {
		p.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("dead job payload has no search id")
		return
	}

	message := truncateError(runErr)
	if err := p.searches.MarkFailed(ctx, payload.SearchID, message); err != nil {
		p.logger.Error().Err(err).Str("search_id", payload.SearchID.String()).Msg("marking search failed")
	}
	if p.metrics != nil {
		p.metrics.RecordSearchFailed()
	}

	if err := p.events.PublishSearchFailed(ctx, domain.SearchFailedPayload{
		SearchID:   payload.SearchID,
		RunVersion: payload.Version,
		Error:      message,
	}); err != nil {
		p.logger.Warn().Err(err).Str("search_id", payload.SearchID.String()).Msg("publishing search.failed event")
	}
}

const maxErrorChars = 500

// truncateError bounds stored error text; last_error is user-visible and a
// provider error chain can be arbitrarily long.
func truncateError(err error) string {
	message := strings.TrimSpace(err.Error())
	if len(message) > maxErrorChars {
		message = message[:maxErrorChars]
	}
	return message
}
