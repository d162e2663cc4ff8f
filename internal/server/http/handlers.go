package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/repository"
)

// Validation bounds and sanitization defaults for search submission.
const (
	minQueryChars        = 3
	maxQueryChars        = 2000
	defaultMaxCandidates = 200
	maxCandidatesCap     = 5000
	defaultEvidenceRows  = 50
	minEvidenceRows      = 10
	maxEvidenceRowsCap   = 500
	minPublicationYear   = 1900
	maxPublicationYear   = 2100
	maxRequestBodySize   = 1 << 20 // 1 MB limit for request bodies
)

// searchRequest is the JSON request body for submitting a literature search.
type searchRequest struct {
	Query           string               `json:"query"`
	Filters         domain.SearchFilters `json:"filters"`
	MaxCandidates   int                  `json:"max_candidates"`
	MaxEvidenceRows int                  `json:"max_evidence_rows"`
	ResponseMode    string               `json:"response_mode,omitempty"`
	Domain          string               `json:"domain,omitempty"`
}

// sanitize validates the query and clamps every limit into its allowed
// range in place. Out-of-range limits are corrected, never rejected: only a
// missing or mis-sized query fails submission.
func (req *searchRequest) sanitize() error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return errors.New("query is required")
	}
	if len(req.Query) < minQueryChars {
		return fmt.Errorf("query must be at least %d characters", minQueryChars)
	}
	if len(req.Query) > maxQueryChars {
		return fmt.Errorf("query must be at most %d characters", maxQueryChars)
	}

	if req.MaxCandidates <= 0 {
		req.MaxCandidates = defaultMaxCandidates
	}
	if req.MaxCandidates > maxCandidatesCap {
		req.MaxCandidates = maxCandidatesCap
	}

	if req.MaxEvidenceRows == 0 {
		req.MaxEvidenceRows = defaultEvidenceRows
	}
	if req.MaxEvidenceRows < minEvidenceRows {
		req.MaxEvidenceRows = minEvidenceRows
	}
	if req.MaxEvidenceRows > maxEvidenceRowsCap {
		req.MaxEvidenceRows = maxEvidenceRowsCap
	}

	if req.Filters.FromYear < minPublicationYear {
		req.Filters.FromYear = minPublicationYear
	}
	if req.Filters.ToYear <= 0 {
		req.Filters.ToYear = time.Now().Year()
	}
	if req.Filters.ToYear > maxPublicationYear {
		req.Filters.ToYear = maxPublicationYear
	}
	if req.Filters.ToYear < req.Filters.FromYear {
		return fmt.Errorf("to_year %d precedes from_year %d", req.Filters.ToYear, req.Filters.FromYear)
	}

	if len(req.Filters.Languages) == 0 {
		req.Filters.Languages = []string{"en"}
	}

	return nil
}

// startSearchResponse is the JSON response for search submission.
type startSearchResponse struct {
	SearchID uuid.UUID           `json:"search_id"`
	Status   domain.SearchStatus `json:"status"`
}

// startSearch handles POST /v1/lit/search: sanitize the request, serve a
// cached identical search when one exists, otherwise create the search and
// enqueue its pipeline job.
func (s *Server) startSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}

	var req searchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON request body")
		return
	}
	if err := req.sanitize(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cacheKey := repository.CacheKey(req.Query, req.Filters, req.MaxCandidates, req.MaxEvidenceRows, req.Domain)
	if cachedID, err := s.deps.Cache.GetSearchID(ctx, cacheKey); err == nil {
		// The cache names a search; completion is confirmed against the
		// search row itself. An entry pointing at an unfinished or missing
		// search falls through to a fresh submission.
		cached, lookupErr := s.deps.Searches.Get(ctx, cachedID)
		if lookupErr == nil && cached.Status == domain.SearchStatusCompleted {
			if s.deps.Metrics != nil {
				s.deps.Metrics.RecordCacheHit("search")
			}
			writeJSON(w, http.StatusOK, startSearchResponse{SearchID: cachedID, Status: domain.SearchStatusCompleted})
			return
		}
		if lookupErr != nil && !errors.Is(lookupErr, domain.ErrNotFound) {
			s.logger.Warn().Err(lookupErr).Str("search_id", cachedID.String()).Msg("cached search lookup failed")
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn().Err(err).Msg("search cache lookup failed")
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCacheMiss("search")
	}

	now := time.Now().UTC()
	search := &domain.Search{
		ID:              uuid.New(),
		Query:           req.Query,
		Filters:         req.Filters,
		MaxCandidates:   req.MaxCandidates,
		MaxEvidenceRows: req.MaxEvidenceRows,
		ResponseMode:    req.ResponseMode,
		Domain:          req.Domain,
		Status:          domain.SearchStatusRunning,
		RunVersion:      1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.deps.Searches.Create(ctx, search); err != nil {
		s.logger.Error().Err(err).Msg("creating search failed")
		writeDomainError(w, r, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSearchStarted()
	}

	payload, err := json.Marshal(domain.PipelinePayload{SearchID: search.ID, Version: search.RunVersion})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	job, err := s.deps.Queue.Enqueue(ctx, repository.EnqueueParams{
		ReportID:    search.ID,
		Stage:       domain.JobStagePipeline,
		Payload:     payload,
		// Keyed by search id, not the request cache key: two submissions of
		// the same body are distinct searches and each needs its own job, or
		// the second would never leave running.
		DedupeKey:   fmt.Sprintf("%s:v%d", search.ID, search.RunVersion),
		MaxAttempts: s.deps.Queues.MaxAttempts,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("search_id", search.ID.String()).Msg("enqueueing pipeline job failed")
		writeDomainError(w, r, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordJobEnqueued(string(job.Stage))
	}

	s.logger.Info().
		Str("search_id", search.ID.String()).
		Str("job_id", job.ID.String()).
		Int("max_candidates", search.MaxCandidates).
		Msg("search submitted")
	writeJSON(w, http.StatusAccepted, startSearchResponse{SearchID: search.ID, Status: domain.SearchStatusRunning})
}

// searchResponse is the JSON shape of one search with its latest run outputs
// inlined once the search completes.
type searchResponse struct {
	SearchID        uuid.UUID              `json:"search_id"`
	Query           string                 `json:"query"`
	Status          domain.SearchStatus    `json:"status"`
	Filters         domain.SearchFilters   `json:"filters"`
	MaxCandidates   int                    `json:"max_candidates"`
	MaxEvidenceRows int                    `json:"max_evidence_rows"`
	Domain          string                 `json:"domain,omitempty"`
	Coverage        *domain.CoverageReport `json:"coverage,omitempty"`
	Stats           *domain.RunStats       `json:"stats,omitempty"`
	EvidenceTable   []domain.EvidenceRow   `json:"evidence_table,omitempty"`
	Brief           []domain.BriefSentence `json:"brief,omitempty"`
	Error           *string                `json:"error,omitempty"`
	ActiveRunID     *uuid.UUID             `json:"active_run_id,omitempty"`
	RunVersion      int                    `json:"run_version"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// getSearch handles GET /v1/lit/search/{searchID}.
func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	searchID, err := uuid.Parse(chi.URLParam(r, "searchID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid search id")
		return
	}

	search, err := s.deps.Searches.Get(ctx, searchID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := searchResponse{
		SearchID:        search.ID,
		Query:           search.Query,
		Status:          search.Status,
		Filters:         search.Filters,
		MaxCandidates:   search.MaxCandidates,
		MaxEvidenceRows: search.MaxEvidenceRows,
		Domain:          search.Domain,
		Coverage:        search.Coverage,
		Stats:           search.Stats,
		Error:           search.Error,
		ActiveRunID:     search.ActiveRunID,
		RunVersion:      search.RunVersion,
		CreatedAt:       search.CreatedAt,
		UpdatedAt:       search.UpdatedAt,
	}

	// Inline the finished run's outputs so completed searches resolve in one
	// round trip. A missing run (pruned or mid-write) degrades to the bare
	// search record.
	if search.Status == domain.SearchStatusCompleted && search.ActiveRunID != nil {
		run, runErr := s.deps.Runs.Get(ctx, *search.ActiveRunID)
		if runErr != nil {
			s.logger.Warn().Err(runErr).Str("search_id", search.ID.String()).Msg("loading active run failed")
		} else {
			resp.EvidenceTable = run.EvidenceTable
			resp.Brief = run.Brief
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// runSummaryResponse is one entry of the run listing.
type runSummaryResponse struct {
	RunID     uuid.UUID             `json:"run_id"`
	Version   int                   `json:"version"`
	Coverage  domain.CoverageReport `json:"coverage"`
	Stats     domain.RunStats       `json:"stats"`
	CreatedAt time.Time             `json:"created_at"`
}

// listRuns handles GET /v1/lit/search/{searchID}/runs.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	searchID, err := uuid.Parse(chi.URLParam(r, "searchID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid search id")
		return
	}
	if _, err := s.deps.Searches.Get(ctx, searchID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	runs, err := s.deps.Runs.ListBySearch(ctx, searchID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	summaries := make([]runSummaryResponse, len(runs))
	for i := range runs {
		summaries[i] = runSummaryResponse{
			RunID:     runs[i].ID,
			Version:   runs[i].Version,
			Coverage:  runs[i].Coverage,
			Stats:     runs[i].Stats,
			CreatedAt: runs[i].CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": summaries})
}

// getRun handles GET /v1/lit/search/{searchID}/runs/{runID}: the full run
// snapshot including extracted results.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	searchID, err := uuid.Parse(chi.URLParam(r, "searchID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid search id")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid run id")
		return
	}

	run, err := s.deps.Runs.Get(ctx, runID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if run.SearchID != searchID {
		writeError(w, r, http.StatusNotFound, "not_found", "run does not belong to this search")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// getPaper handles GET /v1/lit/paper/{paperID}: the cached canonical paper.
func (s *Server) getPaper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	paperID := chi.URLParam(r, "paperID")
	// Paper ids carry slashes (doi:10.1000/abc); clients escape them and chi
	// hands back the raw segment.
	if unescaped, err := url.PathUnescape(paperID); err == nil {
		paperID = unescaped
	}
	if paperID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "paper id is required")
		return
	}

	paper, err := s.deps.Cache.GetPaper(ctx, paperID)
	if err != nil {
		if s.deps.Metrics != nil && errors.Is(err, domain.ErrNotFound) {
			s.deps.Metrics.RecordCacheMiss("paper")
		}
		writeDomainError(w, r, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCacheHit("paper")
	}
	writeJSON(w, http.StatusOK, paper)
}

// providerStatus is one adapter entry of the provider health report.
type providerStatus struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Enabled bool   `json:"enabled"`
}

// providersHealthResponse is the provider health report.
type providersHealthResponse struct {
	Providers      []providerStatus       `json:"providers"`
	LatestCoverage *domain.CoverageReport `json:"latest_coverage,omitempty"`
}

// providersHealth handles GET /v1/lit/providers/health: the configured
// adapters and the most recent coverage report across all searches.
func (s *Server) providersHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	all := s.deps.Registry.All()
	statuses := make([]providerStatus, len(all))
	for i, p := range all {
		statuses[i] = providerStatus{
			Name:    p.Name(),
			Source:  string(p.SourceType()),
			Enabled: p.IsEnabled(),
		}
	}

	resp := providersHealthResponse{Providers: statuses}
	coverage, err := s.deps.Searches.LatestCoverage(ctx)
	switch {
	case err == nil:
		resp.LatestCoverage = coverage
	case errors.Is(err, domain.ErrNotFound):
		// No completed run yet.
	default:
		s.logger.Warn().Err(err).Msg("loading latest coverage failed")
	}

	writeJSON(w, http.StatusOK, resp)
}

// drainRequest is the JSON request body for the drain endpoint. Both fields
// are optional.
type drainRequest struct {
	BatchSize int    `json:"batch_size"`
	WorkerID  string `json:"worker_id"`
}

// drainJobs handles POST /v1/lit/jobs/drain: claim and execute up to
// batch_size queued jobs inline. Intended for operators and for deployments
// without a standing worker process; guarded by the worker bearer token.
func (s *Server) drainJobs(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWorker(r) {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "valid worker token required")
		return
	}

	defer r.Body.Close()
	var req drainRequest
	if body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize)); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON request body")
			return
		}
	}

	result, err := s.deps.Drainer.DrainBatch(r.Context(), req.WorkerID, req.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("drain pass failed")
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// authorizeWorker checks the drain bearer token in constant time. An
// unconfigured token disables the endpoint entirely.
func (s *Server) authorizeWorker(r *http.Request) bool {
	if s.cfg.WorkerToken == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.WorkerToken)) == 1
}
