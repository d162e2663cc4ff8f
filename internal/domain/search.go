package domain

import (
	"time"

	"github.com/google/uuid"
)

// SearchFilters are the client-provided corpus filters for one search.
type SearchFilters struct {
	FromYear         int      `json:"from_year,omitempty"`
	ToYear           int      `json:"to_year,omitempty"`
	Languages        []string `json:"languages,omitempty"`
	ExcludePreprints bool     `json:"exclude_preprints,omitempty"`
}

// CoverageReport summarizes which providers answered during one pipeline run.
type CoverageReport struct {
	ProvidersQueried    int      `json:"providers_queried"`
	ProvidersFailed     int      `json:"providers_failed"`
	FailedProviderNames []string `json:"failed_provider_names,omitempty"`
	Degraded            bool     `json:"degraded"`
}

// RunStats are per-stage counters for one pipeline run.
type RunStats struct {
	RawCandidates   int   `json:"raw_candidates"`
	CanonicalPapers int   `json:"canonical_papers"`
	Kept            int   `json:"kept"`
	FilteredCount   int   `json:"filtered_count"`
	Ranked          int   `json:"ranked"`
	Extracted       int   `json:"extracted"`
	StrictResults   int   `json:"strict_results"`
	PartialResults  int   `json:"partial_results"`
	EvidenceRows    int   `json:"evidence_rows"`
	DurationMS      int64 `json:"duration_ms"`
}

// Search is a client-submitted literature search and its latest outcome.
type Search struct {
	ID              uuid.UUID       `json:"search_id"`
	Query           string          `json:"query"`
	Filters         SearchFilters   `json:"filters"`
	MaxCandidates   int             `json:"max_candidates"`
	MaxEvidenceRows int             `json:"max_evidence_rows"`
	ResponseMode    string          `json:"response_mode,omitempty"`
	Domain          string          `json:"domain,omitempty"`
	Status          SearchStatus    `json:"status"`
	Coverage        *CoverageReport `json:"coverage,omitempty"`
	Stats           *RunStats       `json:"stats,omitempty"`
	Error           *string         `json:"error,omitempty"`
	ActiveRunID     *uuid.UUID      `json:"active_run_id,omitempty"`
	RunVersion      int             `json:"run_version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Run is the persisted snapshot of one pipeline execution for a search.
// Results supports concurrent atomic appends while extraction batches run.
type Run struct {
	ID            uuid.UUID       `json:"run_id"`
	SearchID      uuid.UUID       `json:"search_id"`
	Version       int             `json:"version"`
	Results       []StudyResult   `json:"results"`
	EvidenceTable []EvidenceRow   `json:"evidence_table"`
	Brief         []BriefSentence `json:"brief"`
	Coverage      CoverageReport  `json:"coverage"`
	Stats         RunStats        `json:"stats"`
	CreatedAt     time.Time       `json:"created_at"`
}
