package providers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/observability"
)

const (
	// DefaultCallTimeout bounds a single provider call attempt.
	DefaultCallTimeout = 8 * time.Second

	// DefaultMaxRetries is how many times a failed provider call is retried.
	DefaultMaxRetries = 2

	// DefaultRetryBackoff is the linear backoff step: attempt n waits n×step.
	DefaultRetryBackoff = 250 * time.Millisecond
)

// OrchestratorConfig tunes the fan-out behavior.
type OrchestratorConfig struct {
	// CallTimeout is the per-attempt timeout for one provider call.
	CallTimeout time.Duration

	// MaxRetries is the retry budget per provider per run.
	MaxRetries int

	// RetryBackoff is the linear backoff step between attempts.
	RetryBackoff time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
}

// Orchestrator fans a search query out to every enabled provider
// concurrently and joins the results with partial-failure tolerance: a
// provider that fails after its retry budget contributes zero candidates and
// marks the run degraded, but never aborts it.
type Orchestrator struct {
	registry *Registry
	config   OrchestratorConfig
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewOrchestrator creates an orchestrator over the registry. metrics may be
// nil in tests; recording is then skipped.
func NewOrchestrator(registry *Registry, cfg OrchestratorConfig, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		registry: registry,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// providerResult carries one provider's outcome through the fan-in channel.
type providerResult struct {
	source     domain.SourceType
	candidates []domain.RawCandidate
	err        error
}

// Search queries all enabled providers concurrently and returns candidates
// grouped by provider plus a coverage report. Failed providers appear in the
// report, not in the map. The returned map never contains nil slices.
func (o *Orchestrator) Search(ctx context.Context, q Query) (map[domain.SourceType][]domain.RawCandidate, domain.CoverageReport) {
	enabled := o.registry.Enabled()
	report := domain.CoverageReport{ProvidersQueried: len(enabled)}
	byProvider := make(map[domain.SourceType][]domain.RawCandidate, len(enabled))

	if len(enabled) == 0 {
		return byProvider, report
	}

	results := make(chan providerResult, len(enabled))
	var wg sync.WaitGroup

	for _, p := range enabled {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			candidates, err := o.searchWithRetry(ctx, p, q)
			results <- providerResult{source: p.SourceType(), candidates: candidates, err: err}
		}(p)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			report.ProvidersFailed++
			report.FailedProviderNames = append(report.FailedProviderNames, string(r.source))
			o.logger.Warn().
				Err(r.err).
				Str("provider", string(r.source)).
				Msg("provider contributed no candidates")
			continue
		}
		if r.candidates == nil {
			r.candidates = []domain.RawCandidate{}
		}
		byProvider[r.source] = r.candidates
	}

	sort.Strings(report.FailedProviderNames)
	report.Degraded = report.ProvidersFailed > 0

	o.logger.Info().
		Int("providers_queried", report.ProvidersQueried).
		Int("providers_failed", report.ProvidersFailed).
		Bool("degraded", report.Degraded).
		Msg("provider fan-out complete")

	return byProvider, report
}

// searchWithRetry runs one provider's search with the per-call timeout and
// linear backoff. Non-transient provider errors (4xx except 429) are not
// retried; cancellation of the run context stops retrying immediately.
func (o *Orchestrator) searchWithRetry(ctx context.Context, p Provider, q Query) ([]domain.RawCandidate, error) {
	source := string(p.SourceType())
	logger := observability.WithProviderContext(o.logger, source, q.Text)

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * o.config.RetryBackoff
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			logger.Debug().Int("attempt", attempt+1).Msg("retrying provider call")
		}

		callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
		start := time.Now()
		candidates, err := p.Search(callCtx, q)
		cancel()

		if o.metrics != nil {
			o.metrics.RecordProviderRequest(source, time.Since(start), len(candidates), err)
		}
		if err == nil {
			return candidates, nil
		}

		lastErr = err
		if errors.Is(err, domain.ErrRateLimited) && o.metrics != nil {
			o.metrics.RecordProviderRateLimited(source)
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if !isTransient(err) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// isTransient reports whether a provider error is worth retrying. Rate
// limits and anything a ProviderError classifies as transient qualify;
// a plain network error (no ProviderError in the chain) does too.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr.IsTransient()
	}
	return true
}
