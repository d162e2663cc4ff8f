// Package pipeline exercises the full in-process flow: a search accepted over
// HTTP, its job claimed and executed by the worker pool, and the resulting
// evidence served back through the API. Providers are stubbed; everything
// else is the real wiring over in-memory repositories.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/config"
	"github.com/evidencehq/litsearch/internal/database"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/events"
	"github.com/evidencehq/litsearch/internal/evidence"
	"github.com/evidencehq/litsearch/internal/extract"
	"github.com/evidencehq/litsearch/internal/pipeline"
	"github.com/evidencehq/litsearch/internal/providers"
	"github.com/evidencehq/litsearch/internal/quality"
	"github.com/evidencehq/litsearch/internal/rank"
	"github.com/evidencehq/litsearch/internal/repository"
	httpserver "github.com/evidencehq/litsearch/internal/server/http"
	"github.com/evidencehq/litsearch/internal/worker"
)

const drainToken = "pipeline-drain-token"

type memSearches struct {
	mu       sync.Mutex
	searches map[uuid.UUID]*domain.Search
}

func newMemSearches() *memSearches {
	return &memSearches{searches: make(map[uuid.UUID]*domain.Search)}
}

func (m *memSearches) Create(_ context.Context, search *domain.Search) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.searches[search.ID]; ok {
		return domain.NewAlreadyExistsError("search", search.ID.String())
	}
	copied := *search
	m.searches[search.ID] = &copied
	return nil
}

func (m *memSearches) Get(_ context.Context, id uuid.UUID) (*domain.Search, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search, ok := m.searches[id]
	if !ok {
		return nil, domain.NewNotFoundError("search", id.String())
	}
	copied := *search
	return &copied, nil
}

func (m *memSearches) MarkCompleted(_ context.Context, id, runID uuid.UUID, coverage domain.CoverageReport, stats domain.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	search, ok := m.searches[id]
	if !ok || search.Status.IsTerminal() {
		return fmt.Errorf("search %s not running: %w", id, domain.ErrNotFound)
	}
	search.Status = domain.SearchStatusCompleted
	search.ActiveRunID = &runID
	search.Coverage = &coverage
	search.Stats = &stats
	search.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSearches) MarkFailed(_ context.Context, id uuid.UUID, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	search, ok := m.searches[id]
	if !ok || search.Status.IsTerminal() {
		return nil
	}
	search.Status = domain.SearchStatusFailed
	search.Error = &errorMsg
	search.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSearches) LatestCoverage(context.Context) (*domain.CoverageReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Search
	for _, search := range m.searches {
		if search.Coverage == nil {
			continue
		}
		if latest == nil || search.UpdatedAt.After(latest.UpdatedAt) {
			latest = search
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	coverage := *latest.Coverage
	return &coverage, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]*domain.Run)}
}

func (m *memRuns) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs {
		if existing.SearchID == run.SearchID && existing.Version == run.Version {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *memRuns) Get(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("run", id.String())
	}
	copied := *run
	return &copied, nil
}

func (m *memRuns) ListBySearch(_ context.Context, searchID uuid.UUID) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Run
	for _, run := range m.runs {
		if run.SearchID == searchID {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *memRuns) AppendResults(_ context.Context, id uuid.UUID, results []domain.StudyResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.NewNotFoundError("run", id.String())
	}
	run.Results = append(run.Results, results...)
	return nil
}

func (m *memRuns) SetOutputs(_ context.Context, id uuid.UUID, rows []domain.EvidenceRow, brief []domain.BriefSentence, coverage domain.CoverageReport, stats domain.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.NewNotFoundError("run", id.String())
	}
	run.EvidenceTable = rows
	run.Brief = brief
	run.Coverage = coverage
	run.Stats = stats
	return nil
}

type memCache struct {
	mu        sync.Mutex
	searchIDs map[string]uuid.UUID
	papers    map[string]domain.CanonicalPaper
}

func newMemCache() *memCache {
	return &memCache{
		searchIDs: make(map[string]uuid.UUID),
		papers:    make(map[string]domain.CanonicalPaper),
	}
}

func (m *memCache) GetSearchID(_ context.Context, cacheKey string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.searchIDs[cacheKey]
	if !ok {
		return uuid.Nil, domain.NewNotFoundError("search cache entry", cacheKey)
	}
	return id, nil
}

func (m *memCache) PutSearch(_ context.Context, cacheKey string, searchID uuid.UUID, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchIDs[cacheKey] = searchID
	return nil
}

func (m *memCache) GetPaper(_ context.Context, paperID string) (*domain.CanonicalPaper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paper, ok := m.papers[paperID]
	if !ok {
		return nil, domain.NewNotFoundError("paper", paperID)
	}
	return &paper, nil
}

func (m *memCache) PutPapers(_ context.Context, papers []domain.CanonicalPaper, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range papers {
		m.papers[p.PaperID] = p
	}
	return nil
}

// memQueue reimplements the lease-based queue contract in memory: dedupe on
// enqueue, attempts counted at claim, fail requeues until max_attempts.
type memQueue struct {
	mu    sync.Mutex
	jobs  []*domain.Job
	byKey map[string]*domain.Job
}

func newMemQueue() *memQueue {
	return &memQueue{byKey: make(map[string]*domain.Job)}
}

func (m *memQueue) Enqueue(_ context.Context, params repository.EnqueueParams) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byKey[params.DedupeKey]; ok {
		copied := *existing
		return &copied, nil
	}
	job := &domain.Job{
		ID:          uuid.New(),
		ReportID:    params.ReportID,
		Stage:       params.Stage,
		Payload:     params.Payload,
		Status:      domain.JobStatusQueued,
		MaxAttempts: params.MaxAttempts,
		DedupeKey:   params.DedupeKey,
		CreatedAt:   time.Now().UTC(),
	}
	m.jobs = append(m.jobs, job)
	m.byKey[params.DedupeKey] = job
	copied := *job
	return &copied, nil
}

func (m *memQueue) Claim(_ context.Context, workerID string, batchSize int, lease time.Duration) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var claimed []domain.Job
	for _, job := range m.jobs {
		if len(claimed) >= batchSize {
			break
		}
		if job.Status != domain.JobStatusQueued && !job.LeaseExpired(now) {
			continue
		}
		expires := now.Add(lease)
		owner := workerID
		job.Status = domain.JobStatusLeased
		job.LeaseOwner = &owner
		job.LeaseExpiresAt = &expires
		job.Attempts++
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (m *memQueue) Complete(_ context.Context, jobID uuid.UUID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.find(jobID)
	if job == nil || job.Status != domain.JobStatusLeased || job.LeaseOwner == nil || *job.LeaseOwner != workerID {
		return fmt.Errorf("complete job %s: %w", jobID, domain.ErrLeaseLost)
	}
	job.Status = domain.JobStatusCompleted
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	return nil
}

func (m *memQueue) Fail(_ context.Context, jobID uuid.UUID, workerID string, cause string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.find(jobID)
	if job == nil || job.Status != domain.JobStatusLeased || job.LeaseOwner == nil || *job.LeaseOwner != workerID {
		return nil, fmt.Errorf("fail job %s: %w", jobID, domain.ErrLeaseLost)
	}
	if job.Attempts >= job.MaxAttempts {
		job.Status = domain.JobStatusDead
	} else {
		job.Status = domain.JobStatusQueued
	}
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	job.LastError = &cause
	copied := *job
	return &copied, nil
}

func (m *memQueue) find(id uuid.UUID) *domain.Job {
	for _, job := range m.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

type stubProvider struct {
	source     domain.SourceType
	candidates []domain.RawCandidate
	err        error
}

func (p *stubProvider) Search(context.Context, providers.Query) ([]domain.RawCandidate, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.candidates, nil
}

func (p *stubProvider) SourceType() domain.SourceType { return p.source }
func (p *stubProvider) Name() string                  { return string(p.source) }
func (p *stubProvider) IsEnabled() bool               { return true }

type fakeHealth struct{}

func (fakeHealth) Health(context.Context) database.HealthStatus {
	return database.HealthStatus{Status: "healthy"}
}

const trialAbstract = "In this randomized controlled trial we enrolled 4522 adults with " +
	"type 2 diabetes and elevated cardiovascular risk. Participants were randomly " +
	"assigned to weekly semaglutide or placebo. The primary outcome was a composite " +
	"of cardiovascular death, nonfatal myocardial infarction, or nonfatal stroke. " +
	"The hazard ratio for the primary outcome was 0.74 (p=0.02)."

const cohortAbstract = "We followed a prospective cohort of 18250 participants for a " +
	"median of 6.1 years to examine the association between heat exposure and " +
	"cardiovascular mortality. Mortality increased during sustained heat episodes, " +
	"with an adjusted rate ratio of 1.32 (p<0.001) for days above the 95th " +
	"percentile of local temperature."

// testStack is the full wiring: HTTP server, worker pool, and in-memory state.
type testStack struct {
	handler  http.Handler
	pool     *worker.Pool
	searches *memSearches
	runs     *memRuns
	cache    *memCache
	queue    *memQueue
}

func newTestStack(t *testing.T, registry *providers.Registry) *testStack {
	t.Helper()
	logger := zerolog.Nop()

	searches := newMemSearches()
	runs := newMemRuns()
	cache := newMemCache()
	queue := newMemQueue()

	orchestrator := providers.NewOrchestrator(registry, providers.OrchestratorConfig{
		CallTimeout:  2 * time.Second,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	}, logger, nil)

	deterministic := extract.NewDeterministic(nil, logger, nil)
	engine, err := extract.NewEngine(string(domain.ExtractionModeDeterministic), 50, deterministic, nil, logger, nil)
	require.NoError(t, err)

	publisher := events.NewPublisher(config.EventsConfig{Enabled: false}, logger)

	runner := pipeline.NewRunner(pipeline.Deps{
		Orchestrator:  orchestrator,
		Canonicalizer: canon.NewCanonicalizer(logger, nil),
		Filter:        quality.NewFilter(quality.Config{RequireAbstract: true, MinAbstractChars: 50}, logger, nil),
		Ranker:        rank.NewRanker(logger),
		Engine:        engine,
		Builder:       evidence.NewBuilder(logger),
		Searches:      searches,
		Runs:          runs,
		Cache:         cache,
		Events:        publisher,
		CacheConfig:   config.CacheConfig{SearchTTL: time.Hour, PaperTTL: time.Hour},
		Logger:        logger,
	})

	queueCfg := config.QueueConfig{
		Workers:       1,
		PollInterval:  10 * time.Millisecond,
		BatchSize:     5,
		LeaseDuration: time.Minute,
		MaxAttempts:   2,
	}
	pool := worker.NewPool(queueCfg, queue, searches, runner, publisher, logger, nil)

	server := httpserver.NewServer(
		config.ServerConfig{Host: "127.0.0.1", WorkerToken: drainToken},
		httpserver.Deps{
			Searches: searches,
			Runs:     runs,
			Cache:    cache,
			Queue:    queue,
			Registry: registry,
			Drainer:  pool,
			DB:       fakeHealth{},
			Queues:   queueCfg,
			Caches:   config.CacheConfig{SearchTTL: time.Hour, PaperTTL: time.Hour},
			Logger:   logger,
		},
	)

	return &testStack{
		handler:  server.Handler(),
		pool:     pool,
		searches: searches,
		runs:     runs,
		cache:    cache,
		queue:    queue,
	}
}

func (s *testStack) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

type startResponse struct {
	SearchID uuid.UUID           `json:"search_id"`
	Status   domain.SearchStatus `json:"status"`
}

type searchView struct {
	SearchID      uuid.UUID              `json:"search_id"`
	Status        domain.SearchStatus    `json:"status"`
	Error         *string                `json:"error,omitempty"`
	Coverage      *domain.CoverageReport `json:"coverage,omitempty"`
	Stats         *domain.RunStats       `json:"stats,omitempty"`
	EvidenceTable []domain.EvidenceRow   `json:"evidence_table,omitempty"`
	Brief         []domain.BriefSentence `json:"brief,omitempty"`
}

func TestSearchPipelineEndToEnd(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register(&stubProvider{
		source: domain.SourceTypeOpenAlex,
		candidates: []domain.RawCandidate{
			{
				ID:       "W100",
				Title:    "Semaglutide and cardiovascular outcomes in type 2 diabetes",
				Year:     2022,
				Abstract: trialAbstract,
				DOI:      "10.1000/trial.2022",
				Venue:    "N Engl J Med",
				Source:   domain.SourceTypeOpenAlex,
			},
			{
				ID:       "W200",
				Title:    "Heat exposure and cardiovascular mortality: a prospective cohort",
				Year:     2021,
				Abstract: cohortAbstract,
				DOI:      "10.1000/cohort.2021",
				Venue:    "Lancet Planet Health",
				Source:   domain.SourceTypeOpenAlex,
			},
		},
	})
	// Same trial surfaced by a second provider under a different native id;
	// canonicalization must fold the two records into one paper.
	registry.Register(&stubProvider{
		source: domain.SourceTypeEuropePMC,
		candidates: []domain.RawCandidate{
			{
				ID:       "EPMC-1",
				Title:    "Semaglutide and cardiovascular outcomes in type 2 diabetes",
				Year:     2022,
				Abstract: trialAbstract,
				DOI:      "10.1000/trial.2022",
				Venue:    "N Engl J Med",
				Source:   domain.SourceTypeEuropePMC,
			},
		},
	})
	registry.Register(&stubProvider{
		source: domain.SourceTypePubMed,
		err:    errors.New("upstream 503"),
	})

	stack := newTestStack(t, registry)

	rec := stack.do(t, http.MethodPost, "/v1/lit/search", map[string]interface{}{
		"query": "semaglutide cardiovascular outcomes",
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started startResponse
	decodeBody(t, rec, &started)
	require.NotEqual(t, uuid.Nil, started.SearchID)
	assert.Equal(t, domain.SearchStatusRunning, started.Status)

	// Drain the queue through the worker endpoint.
	rec = stack.do(t, http.MethodPost, "/v1/lit/jobs/drain",
		map[string]interface{}{"worker_id": "e2e-worker"},
		map[string]string{"Authorization": "Bearer " + drainToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var drained worker.DrainResult
	decodeBody(t, rec, &drained)
	assert.Equal(t, "e2e-worker", drained.WorkerID)
	assert.Equal(t, 1, drained.Claimed)
	assert.Equal(t, 1, drained.Completed)
	assert.Empty(t, drained.Failures)

	// The search is now completed with inlined outputs.
	rec = stack.do(t, http.MethodGet, "/v1/lit/search/"+started.SearchID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view searchView
	decodeBody(t, rec, &view)
	assert.Equal(t, domain.SearchStatusCompleted, view.Status)
	require.NotNil(t, view.Coverage)
	assert.Equal(t, 3, view.Coverage.ProvidersQueried)
	assert.Equal(t, 1, view.Coverage.ProvidersFailed)
	assert.True(t, view.Coverage.Degraded)
	require.NotNil(t, view.Stats)
	assert.Equal(t, 3, view.Stats.RawCandidates)
	assert.Equal(t, 2, view.Stats.CanonicalPapers, "records sharing a DOI must merge")
	assert.NotEmpty(t, view.EvidenceTable)
	assert.NotEmpty(t, view.Brief)
	for _, sentence := range view.Brief {
		assert.NotEmpty(t, sentence.Citations, "every brief sentence must cite evidence")
	}

	// Run listing and snapshot.
	rec = stack.do(t, http.MethodGet, "/v1/lit/search/"+started.SearchID.String()+"/runs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var runsResp struct {
		Runs []struct {
			RunID   uuid.UUID `json:"run_id"`
			Version int       `json:"version"`
		} `json:"runs"`
	}
	decodeBody(t, rec, &runsResp)
	require.Len(t, runsResp.Runs, 1)
	assert.Equal(t, 1, runsResp.Runs[0].Version)

	rec = stack.do(t, http.MethodGet,
		"/v1/lit/search/"+started.SearchID.String()+"/runs/"+runsResp.Runs[0].RunID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var run domain.Run
	decodeBody(t, rec, &run)
	assert.Len(t, run.Results, 2)
	assert.Equal(t, run.EvidenceTable, view.EvidenceTable)

	// The run warmed the paper cache; the evidence anchor resolves.
	paperID := view.EvidenceTable[0].PaperID
	rec = stack.do(t, http.MethodGet, "/v1/lit/paper/"+url.PathEscape(paperID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var paper domain.CanonicalPaper
	decodeBody(t, rec, &paper)
	assert.Equal(t, paperID, paper.PaperID)

	// The identical request now short-circuits on the search cache.
	rec = stack.do(t, http.MethodPost, "/v1/lit/search", map[string]interface{}{
		"query": "Semaglutide   cardiovascular OUTCOMES",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cached startResponse
	decodeBody(t, rec, &cached)
	assert.Equal(t, started.SearchID, cached.SearchID)
	assert.Equal(t, domain.SearchStatusCompleted, cached.Status)
	assert.Len(t, stack.queue.jobs, 1, "cache hit must not enqueue a second job")
}

// TestDuplicateSubmissionsEachComplete submits the same request twice before
// any worker runs. Each submission must reach a terminal status: the second
// search needs its own job rather than deduping onto the first search's job
// and waiting on a completion that never references it.
func TestDuplicateSubmissionsEachComplete(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register(&stubProvider{
		source: domain.SourceTypeOpenAlex,
		candidates: []domain.RawCandidate{
			{
				ID:       "W100",
				Title:    "Semaglutide and cardiovascular outcomes in type 2 diabetes",
				Year:     2022,
				Abstract: trialAbstract,
				DOI:      "10.1000/trial.2022",
				Venue:    "N Engl J Med",
				Source:   domain.SourceTypeOpenAlex,
			},
		},
	})

	stack := newTestStack(t, registry)
	body := map[string]interface{}{"query": "semaglutide cardiovascular outcomes"}

	rec := stack.do(t, http.MethodPost, "/v1/lit/search", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var first startResponse
	decodeBody(t, rec, &first)

	// The first run is still queued, so the cache cannot answer yet and the
	// duplicate must become its own search.
	rec = stack.do(t, http.MethodPost, "/v1/lit/search", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var second startResponse
	decodeBody(t, rec, &second)
	require.NotEqual(t, first.SearchID, second.SearchID)

	rec = stack.do(t, http.MethodPost, "/v1/lit/jobs/drain",
		map[string]interface{}{"worker_id": "dup-worker"},
		map[string]string{"Authorization": "Bearer " + drainToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var drained worker.DrainResult
	decodeBody(t, rec, &drained)
	assert.Equal(t, 2, drained.Claimed, "each submission must carry its own job")
	assert.Equal(t, 2, drained.Completed)
	assert.Empty(t, drained.Failures)

	for _, searchID := range []uuid.UUID{first.SearchID, second.SearchID} {
		rec = stack.do(t, http.MethodGet, "/v1/lit/search/"+searchID.String(), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var view searchView
		decodeBody(t, rec, &view)
		assert.Equal(t, domain.SearchStatusCompleted, view.Status,
			"search %s must reach a terminal status", searchID)
	}
}

func TestSearchPipelineExhaustsAttemptsAndFails(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register(&stubProvider{
		source: domain.SourceTypeOpenAlex,
		err:    errors.New("upstream 500"),
	})

	stack := newTestStack(t, registry)
	ctx := context.Background()

	rec := stack.do(t, http.MethodPost, "/v1/lit/search", map[string]interface{}{
		"query": "query that can never be served",
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started startResponse
	decodeBody(t, rec, &started)

	// First attempt fails and requeues.
	result, err := stack.pool.DrainBatch(ctx, "retry-worker", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Retried)
	assert.Zero(t, result.Dead)

	rec = stack.do(t, http.MethodGet, "/v1/lit/search/"+started.SearchID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view searchView
	decodeBody(t, rec, &view)
	assert.Equal(t, domain.SearchStatusRunning, view.Status, "search stays running while retries remain")

	// Second attempt exhausts max_attempts; the job dies and the search fails.
	result, err = stack.pool.DrainBatch(ctx, "retry-worker", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Dead)

	rec = stack.do(t, http.MethodGet, "/v1/lit/search/"+started.SearchID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &view)
	assert.Equal(t, domain.SearchStatusFailed, view.Status)
	require.NotNil(t, view.Error)
	assert.Contains(t, *view.Error, "providers failed")

	// A dead job is never claimed again.
	result, err = stack.pool.DrainBatch(ctx, "retry-worker", 5)
	require.NoError(t, err)
	assert.Zero(t, result.Claimed)
}
