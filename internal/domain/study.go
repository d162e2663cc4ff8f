package domain

// Outcome is a single measured outcome extracted from a study. Every non-nil
// string field is a verbatim excerpt from the source text, never paraphrased.
type Outcome struct {
	OutcomeMeasured string  `json:"outcome_measured" validate:"required"`
	KeyResult       *string `json:"key_result,omitempty"`
	CitationSnippet string  `json:"citation_snippet"`
	Intervention    *string `json:"intervention,omitempty"`
	Comparator      *string `json:"comparator,omitempty"`
	EffectSize      *string `json:"effect_size,omitempty"`
	PValue          *string `json:"p_value,omitempty"`
}

// DedupeKey identifies an outcome within a study for union merges.
func (o Outcome) DedupeKey() string {
	key := o.OutcomeMeasured + "|" + o.CitationSnippet + "|"
	if o.KeyResult != nil {
		key += *o.KeyResult
	}
	return key
}

// IsSubstantiated reports whether the outcome carries, besides its measured
// name, at least one of effect size, p-value, intervention, or comparator.
func (o Outcome) IsSubstantiated() bool {
	if o.OutcomeMeasured == "" {
		return false
	}
	return o.EffectSize != nil || o.PValue != nil || o.Intervention != nil || o.Comparator != nil
}

// Citation carries the identifiers and formatted reference of a study.
type Citation struct {
	DOI        string `json:"doi,omitempty"`
	PubmedID   string `json:"pubmed_id,omitempty"`
	OpenAlexID string `json:"openalex_id,omitempty"`
	Formatted  string `json:"formatted"`
}

// StudyResult is the structured evidence record extracted from one paper.
// Records are immutable once tiered; repeated extraction attempts on the same
// StudyID merge by unioning outcomes and keeping the longer excerpt.
type StudyResult struct {
	StudyID          string           `json:"study_id" validate:"required"`
	Title            string           `json:"title" validate:"required"`
	Year             int              `json:"year,omitempty"`
	StudyDesign      StudyDesign      `json:"study_design"`
	SampleSize       *int             `json:"sample_size,omitempty"`
	Population       *string          `json:"population,omitempty"`
	Outcomes         []Outcome        `json:"outcomes,omitempty" validate:"dive"`
	Citation         Citation         `json:"citation"`
	AbstractExcerpt  string           `json:"abstract_excerpt,omitempty"`
	PreprintStatus   string           `json:"preprint_status,omitempty"`
	ReviewType       ReviewType       `json:"review_type"`
	Source           SourceType       `json:"source,omitempty"`
	CitationCount    int              `json:"citation_count"`
	PDFURL           string           `json:"pdf_url,omitempty"`
	LandingPageURL   string           `json:"landing_page_url,omitempty"`
	CompletenessTier CompletenessTier `json:"completeness_tier"`
}

// minExcerptChars is the shortest abstract excerpt accepted for the strict tier.
const minExcerptChars = 50

// IsComplete reports whether the record satisfies every strict-tier
// requirement: title, year, a non-unknown design, a sufficient excerpt, and
// one substantiated outcome.
func (r *StudyResult) IsComplete() bool {
	if r.Title == "" || r.Year == 0 {
		return false
	}
	if r.StudyDesign == StudyDesignUnknown || r.StudyDesign == "" {
		return false
	}
	if len(r.AbstractExcerpt) < minExcerptChars {
		return false
	}
	for _, o := range r.Outcomes {
		if o.IsSubstantiated() {
			return true
		}
	}
	return false
}

// MergeOutcomes unions the given outcomes into the study, skipping entries
// whose dedupe key is already present.
func (r *StudyResult) MergeOutcomes(outcomes []Outcome) {
	seen := make(map[string]bool, len(r.Outcomes))
	for _, o := range r.Outcomes {
		seen[o.DedupeKey()] = true
	}
	for _, o := range outcomes {
		key := o.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		r.Outcomes = append(r.Outcomes, o)
	}
}
