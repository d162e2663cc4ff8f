// Package domain provides domain models and business logic for the literature
// evidence retrieval service.
package domain

// SearchStatus represents the lifecycle states of a literature search.
// These values must match the database check constraint on searches.status.
type SearchStatus string

const (
	SearchStatusRunning   SearchStatus = "running"
	SearchStatusCompleted SearchStatus = "completed"
	SearchStatusFailed    SearchStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s SearchStatus) IsTerminal() bool {
	switch s {
	case SearchStatusCompleted, SearchStatusFailed:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle states of a queued job.
// These values must match the database check constraint on jobs.status.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusLeased    JobStatus = "leased"
	JobStatusCompleted JobStatus = "completed"
	JobStatusDead      JobStatus = "dead"
)

// IsTerminal returns true if the job can no longer transition.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusDead:
		return true
	default:
		return false
	}
}

// JobStage identifies the unit of work a job carries.
type JobStage string

const (
	// JobStagePipeline runs the full retrieval-extraction pipeline for one search.
	JobStagePipeline JobStage = "pipeline"
)

// SourceType represents the bibliographic provider that supplied a record.
type SourceType string

const (
	SourceTypeOpenAlex        SourceType = "openalex"
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypeArXiv           SourceType = "arxiv"
	SourceTypePubMed          SourceType = "pubmed"
	SourceTypeEuropePMC       SourceType = "europe_pmc"
)

// QualityTier is the soft quality classification of a canonical paper.
// Tiers influence presentation ordering only; they never reject a paper.
type QualityTier string

const (
	QualityTierHigh   QualityTier = "high"
	QualityTierMedium QualityTier = "medium"
	QualityTierLow    QualityTier = "low"
)

// CompletenessTier classifies how complete an extracted study record is.
type CompletenessTier string

const (
	// TierStrict means the record carries title, year, a known design, a
	// sufficient excerpt, and at least one substantiated outcome.
	TierStrict CompletenessTier = "strict"
	// TierPartial marks records that survived extraction but miss one or
	// more strict requirements. They are surfaced, never dropped.
	TierPartial CompletenessTier = "partial"
)

// StudyDesign is the recognized design of a study.
type StudyDesign string

const (
	StudyDesignRCT            StudyDesign = "RCT"
	StudyDesignCohort         StudyDesign = "cohort"
	StudyDesignCrossSectional StudyDesign = "cross-sectional"
	StudyDesignReview         StudyDesign = "review"
	StudyDesignUnknown        StudyDesign = "unknown"
)

// ReviewType distinguishes evidence syntheses from primary studies.
type ReviewType string

const (
	ReviewTypeNone       ReviewType = "None"
	ReviewTypeSystematic ReviewType = "Systematic review"
	ReviewTypeMeta       ReviewType = "Meta-analysis"
)

// PreprintStatus labels peer-review state of a paper.
const (
	PreprintStatusPreprint     = "Preprint"
	PreprintStatusPeerReviewed = "Peer-reviewed"
)

// ExtractionMode selects the extraction strategy.
type ExtractionMode string

const (
	ExtractionModeDeterministic ExtractionMode = "deterministic"
	ExtractionModeLLM           ExtractionMode = "llm"
	ExtractionModeHybrid        ExtractionMode = "hybrid"
)

// IsValid reports whether the mode is one of the supported strategies.
func (m ExtractionMode) IsValid() bool {
	switch m {
	case ExtractionModeDeterministic, ExtractionModeLLM, ExtractionModeHybrid:
		return true
	default:
		return false
	}
}
