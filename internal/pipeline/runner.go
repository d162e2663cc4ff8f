// Package pipeline executes one full retrieval-extraction run for a claimed
// job: provider fan-out, canonicalization, quality filtering, ranking,
// extraction, evidence assembly, and persistence of the run snapshot.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/config"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/events"
	"github.com/evidencehq/litsearch/internal/evidence"
	"github.com/evidencehq/litsearch/internal/extract"
	"github.com/evidencehq/litsearch/internal/observability"
	"github.com/evidencehq/litsearch/internal/providers"
	"github.com/evidencehq/litsearch/internal/quality"
	"github.com/evidencehq/litsearch/internal/rank"
	"github.com/evidencehq/litsearch/internal/repository"
)

// appendBatchSize bounds one jsonb append statement; large result sets are
// persisted in slices so a mid-run crash loses at most one slice.
const appendBatchSize = 10

// Deps are the collaborators a Runner wires together.
type Deps struct {
	Orchestrator  *providers.Orchestrator
	Canonicalizer *canon.Canonicalizer
	Filter        *quality.Filter
	Ranker        *rank.Ranker
	Engine        *extract.Engine
	Builder       *evidence.Builder
	Searches      repository.SearchRepository
	Runs          repository.RunRepository
	Cache         repository.CacheRepository
	Events        *events.Publisher
	CacheConfig   config.CacheConfig
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

// Runner executes pipeline jobs claimed from the queue. It satisfies the
// worker pool's Runner interface.
type Runner struct {
	deps   Deps
	logger zerolog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(deps Deps) *Runner {
	return &Runner{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the pipeline for one claimed job. Errors are retryable: the
// worker records them through the queue's fail operation and the run repeats
// under a fresh lease until attempts are exhausted.
func (r *Runner) Run(ctx context.Context, job *domain.Job) error {
	var payload domain.PipelinePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decoding pipeline payload: %w", err)
	}
	if payload.SearchID == uuid.Nil {
		return errors.New("pipeline payload has no search id")
	}

	search, err := r.deps.Searches.Get(ctx, payload.SearchID)
	if err != nil {
		return fmt.Errorf("loading search: %w", err)
	}
	if search.Status.IsTerminal() {
		// A lease lost after completion leaves a re-claimable job behind;
		// re-running it would produce a duplicate run.
		r.logger.Info().
			Str("search_id", search.ID.String()).
			Str("status", string(search.Status)).
			Msg("search already terminal, skipping run")
		return nil
	}

	logger := r.logger.With().
		Str("search_id", search.ID.String()).
		Int("run_version", payload.Version).
		Logger()
	start := time.Now()

	byProvider, coverage := r.deps.Orchestrator.Search(ctx, providers.Query{
		Text:             search.Query,
		FromYear:         search.Filters.FromYear,
		ToYear:           search.Filters.ToYear,
		MaxResults:       search.MaxCandidates,
		ExcludePreprints: search.Filters.ExcludePreprints,
		Domain:           search.Domain,
	})
	rawCount := 0
	for _, candidates := range byProvider {
		rawCount += len(candidates)
	}
	if coverage.ProvidersQueried > 0 && coverage.ProvidersFailed == coverage.ProvidersQueried {
		return fmt.Errorf("all %d providers failed", coverage.ProvidersQueried)
	}
	logger.Info().
		Int("raw_candidates", rawCount).
		Int("providers_failed", coverage.ProvidersFailed).
		Bool("degraded", coverage.Degraded).
		Msg("provider fan-out joined")

	papers := r.deps.Canonicalizer.Merge(byProvider)
	filtered := r.deps.Filter.Apply(papers, search.Filters)
	ranked := r.deps.Ranker.Rank(search.Query, filtered.Kept, search.MaxCandidates)

	stats := domain.RunStats{
		RawCandidates:   rawCount,
		CanonicalPapers: len(papers),
		Kept:            len(filtered.Kept),
		FilteredCount:   filtered.FilteredCount,
		Ranked:          len(ranked),
	}

	runID, err := r.ensureRun(ctx, search.ID, payload.Version, coverage, stats)
	if err != nil {
		return err
	}

	results, err := r.deps.Engine.Extract(ctx, search.Query, ranked)
	if err != nil {
		return fmt.Errorf("extracting study results: %w", err)
	}
	for batchStart := 0; batchStart < len(results); batchStart += appendBatchSize {
		end := batchStart + appendBatchSize
		if end > len(results) {
			end = len(results)
		}
		if err := r.deps.Runs.AppendResults(ctx, runID, results[batchStart:end]); err != nil {
			return fmt.Errorf("appending run results: %w", err)
		}
	}

	evidenceRows, brief := r.deps.Builder.Build(ranked, results, coverage, search.MaxEvidenceRows)

	stats.Extracted = len(results)
	stats.StrictResults, stats.PartialResults = tierCounts(results)
	stats.EvidenceRows = len(evidenceRows)
	stats.DurationMS = time.Since(start).Milliseconds()

	if err := r.deps.Runs.SetOutputs(ctx, runID, evidenceRows, brief, coverage, stats); err != nil {
		return fmt.Errorf("storing run outputs: %w", err)
	}

	if err := r.deps.Searches.MarkCompleted(ctx, search.ID, runID, coverage, stats); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn().Err(err).Msg("search no longer running, outputs kept")
			return nil
		}
		return fmt.Errorf("marking search completed: %w", err)
	}

	// Warm only after the terminal status is durable. A cache entry written
	// earlier could name a search a retried attempt still holds in running.
	r.warmCaches(ctx, search, ranked, logger)

	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordSearchCompleted(time.Since(start))
	}
	if err := r.deps.Events.PublishSearchCompleted(ctx, domain.SearchCompletedPayload{
		SearchID:   search.ID,
		RunID:      runID,
		RunVersion: payload.Version,
		Coverage:   coverage,
		Stats:      stats,
		Duration:   time.Since(start),
	}); err != nil {
		logger.Warn().Err(err).Msg("publishing search.completed event")
	}

	logger.Info().
		Int("evidence_rows", len(evidenceRows)).
		Int("strict", stats.StrictResults).
		Int("partial", stats.PartialResults).
		Dur("duration", time.Since(start)).
		Msg("pipeline run completed")
	return nil
}

// ensureRun creates the run snapshot for this version, reusing the existing
// snapshot when a previous attempt already created it.
func (r *Runner) ensureRun(ctx context.Context, searchID uuid.UUID, version int, coverage domain.CoverageReport, stats domain.RunStats) (uuid.UUID, error) {
	run := &domain.Run{
		ID:        uuid.New(),
		SearchID:  searchID,
		Version:   version,
		Coverage:  coverage,
		Stats:     stats,
		CreatedAt: time.Now().UTC(),
	}
	err := r.deps.Runs.Create(ctx, run)
	if err == nil {
		return run.ID, nil
	}
	if !errors.Is(err, domain.ErrAlreadyExists) {
		return uuid.Nil, fmt.Errorf("creating run: %w", err)
	}

	existing, listErr := r.deps.Runs.ListBySearch(ctx, searchID)
	if listErr != nil {
		return uuid.Nil, fmt.Errorf("loading existing runs: %w", listErr)
	}
	for i := range existing {
		if existing[i].Version == version {
			return existing[i].ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("run version %d exists but was not found", version)
}

// warmCaches upserts the paper and search caches. Cache writes are best
// effort: a failed upsert degrades later lookups, never this run.
func (r *Runner) warmCaches(ctx context.Context, search *domain.Search, ranked []domain.CanonicalPaper, logger zerolog.Logger) {
	if len(ranked) > 0 {
		if err := r.deps.Cache.PutPapers(ctx, ranked, r.deps.CacheConfig.PaperTTL); err != nil {
			logger.Warn().Err(err).Msg("paper cache upsert failed")
		}
	}

	key := repository.CacheKey(search.Query, search.Filters, search.MaxCandidates, search.MaxEvidenceRows, search.Domain)
	if err := r.deps.Cache.PutSearch(ctx, key, search.ID, r.deps.CacheConfig.SearchTTL); err != nil {
		logger.Warn().Err(err).Msg("search cache upsert failed")
	}
}

func tierCounts(results []domain.StudyResult) (strict, partial int) {
	for i := range results {
		if results[i].CompletenessTier == domain.TierStrict {
			strict++
		} else {
			partial++
		}
	}
	return strict, partial
}
