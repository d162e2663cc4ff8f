// Package quality applies hard-rejection and soft-scoring rules to
// canonical papers before ranking and extraction.
package quality

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/observability"
)

// Reject reasons recorded on QualityDecision and in metrics.
const (
	ReasonRetracted        = "retracted"
	ReasonPublicationType  = "publication_type_excluded"
	ReasonAbstractMissing  = "abstract_missing"
	ReasonAbstractTooShort = "abstract_too_short"
	ReasonPreprintExcluded = "preprint_excluded"
	ReasonOutsideYearRange = "outside_year_range"
)

// Soft-tier thresholds. Tier never rejects a paper.
const (
	tierAbstractChars = 400
	tierCitations     = 10
)

// excludedTypeMarkers match provider publication types that mark
// editorial matter rather than research articles.
var excludedTypeMarkers = []string{
	"editorial",
	"comment",
	"case report",
	"letter",
}

// excludedTitlePrefixes catch editorial matter when the provider did not
// supply publication types.
var excludedTitlePrefixes = []string{
	"editorial:",
	"commentary:",
	"comment on",
	"letter to the editor",
	"case report:",
}

// Config controls the hard abstract filter.
type Config struct {
	// RequireAbstract hard-rejects papers whose abstract is missing or
	// shorter than MinAbstractChars.
	RequireAbstract bool
	// MinAbstractChars is the informativeness threshold applied when
	// RequireAbstract is set.
	MinAbstractChars int
}

// Result is the quality filter output for one pipeline run.
type Result struct {
	Kept          []domain.CanonicalPaper
	FilteredCount int
}

// Filter evaluates canonical papers against hard-rejection rules and
// assigns a soft quality tier to the survivors.
type Filter struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewFilter creates a quality filter. metrics may be nil.
func NewFilter(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Filter {
	return &Filter{
		cfg:     cfg,
		logger:  logger.With().Str("component", "quality_filter").Logger(),
		metrics: metrics,
	}
}

// Apply decides every paper and returns the survivors:
//
//  1. Evaluate the hard-rejection rules; all matching reject reasons are
//     recorded, any one of them rejects.
//  2. Assign a soft quality tier to papers that pass.
//  3. Return kept papers plus the count of rejected ones.
//
// Every element of papers is updated in place with its QualityDecision,
// so callers can inspect why a paper was rejected. Every returned paper
// has HardRejected=false.
func (f *Filter) Apply(papers []domain.CanonicalPaper, filters domain.SearchFilters) Result {
	kept := make([]domain.CanonicalPaper, 0, len(papers))
	filtered := 0

	for i := range papers {
		paper := &papers[i]
		reasons := f.rejectReasons(paper, filters)
		if len(reasons) > 0 {
			paper.Quality = domain.QualityDecision{
				HardRejected:  true,
				RejectReasons: reasons,
			}
			filtered++
			if f.metrics != nil {
				for _, reason := range reasons {
					f.metrics.RecordFiltered(reason)
				}
			}
			f.logger.Debug().
				Str("paper_id", paper.PaperID).
				Strs("reasons", reasons).
				Msg("paper hard-rejected")
			continue
		}

		paper.Quality = domain.QualityDecision{
			HardRejected: false,
			QualityTier:  tierFor(paper),
		}
		kept = append(kept, *paper)
	}

	f.logger.Info().
		Int("papers", len(papers)).
		Int("kept", len(kept)).
		Int("filtered", filtered).
		Msg("quality filter applied")

	return Result{Kept: kept, FilteredCount: filtered}
}

func (f *Filter) rejectReasons(paper *domain.CanonicalPaper, filters domain.SearchFilters) []string {
	var reasons []string

	if paper.IsRetracted {
		reasons = append(reasons, ReasonRetracted)
	}
	if isExcludedPublicationType(paper) {
		reasons = append(reasons, ReasonPublicationType)
	}
	if f.cfg.RequireAbstract {
		abstract := strings.TrimSpace(paper.Abstract)
		if abstract == "" {
			reasons = append(reasons, ReasonAbstractMissing)
		} else if len(abstract) < f.cfg.MinAbstractChars {
			reasons = append(reasons, ReasonAbstractTooShort)
		}
	}
	if filters.ExcludePreprints && paper.IsPreprint {
		reasons = append(reasons, ReasonPreprintExcluded)
	}
	if outsideYearRange(paper.Year, filters) {
		reasons = append(reasons, ReasonOutsideYearRange)
	}

	return reasons
}

// isExcludedPublicationType reports whether the paper is editorial
// matter, from provider publication types when present, otherwise from
// title prefixes.
func isExcludedPublicationType(paper *domain.CanonicalPaper) bool {
	for _, pubType := range paper.PublicationTypes {
		normalized := strings.ToLower(strings.ReplaceAll(pubType, "-", " "))
		for _, marker := range excludedTypeMarkers {
			if strings.Contains(normalized, marker) {
				return true
			}
		}
	}

	title := strings.ToLower(strings.TrimSpace(paper.Title))
	for _, prefix := range excludedTitlePrefixes {
		if strings.HasPrefix(title, prefix) {
			return true
		}
	}
	return false
}

// outsideYearRange reports whether a known publication year falls
// outside the requested window. Unknown years (0) always pass.
func outsideYearRange(year int, filters domain.SearchFilters) bool {
	if year == 0 {
		return false
	}
	if filters.FromYear > 0 && year < filters.FromYear {
		return true
	}
	if filters.ToYear > 0 && year > filters.ToYear {
		return true
	}
	return false
}

// tierFor scores a kept paper into high, medium or low from abstract
// length, citation count and venue presence.
func tierFor(paper *domain.CanonicalPaper) domain.QualityTier {
	score := 0
	if len(paper.Abstract) >= tierAbstractChars {
		score++
	}
	if paper.CitationCount >= tierCitations {
		score++
	}
	if strings.TrimSpace(paper.Venue) != "" {
		score++
	}

	switch {
	case score >= 3:
		return domain.QualityTierHigh
	case score == 2:
		return domain.QualityTierMedium
	default:
		return domain.QualityTierLow
	}
}
