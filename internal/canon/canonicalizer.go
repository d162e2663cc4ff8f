package canon

import (
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/observability"
)

const (
	// shortTitleLength is the normalized-title length at or below which the
	// tighter fuzzy threshold applies.
	shortTitleLength = 40

	// shortTitleMaxDistance is the edit distance accepted for short titles.
	shortTitleMaxDistance = 2

	// longTitleMaxDistance is the edit distance accepted for longer titles.
	longTitleMaxDistance = 3
)

// Canonicalizer merges raw provider candidates into canonical papers by
// identifier and title matching. Exactly one canonical paper comes out per
// real-world paper among the candidates fed in.
type Canonicalizer struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewCanonicalizer creates a canonicalizer. metrics may be nil in tests;
// recording is then skipped.
func NewCanonicalizer(logger zerolog.Logger, metrics *observability.Metrics) *Canonicalizer {
	return &Canonicalizer{logger: logger, metrics: metrics}
}

// Merge collapses the orchestrator's per-provider candidates into canonical
// papers. Candidates are processed in provider-then-arrival order (providers
// sorted by name) so the result is deterministic.
//
// Each candidate is matched against the already-seen canonical papers in
// priority order:
//  1. exact match on the normalized DOI,
//  2. exact match on the normalized title,
//  3. closest fuzzy title match within the edit-distance threshold
//     (2 for normalized titles of at most 40 characters, 3 otherwise).
//
// A matched candidate merges into the existing paper; an unmatched one
// starts a new paper. Output order is first-seen order.
func (c *Canonicalizer) Merge(byProvider map[domain.SourceType][]domain.RawCandidate) []domain.CanonicalPaper {
	providers := make([]domain.SourceType, 0, len(byProvider))
	for source := range byProvider {
		providers = append(providers, source)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	var (
		papers     []domain.CanonicalPaper
		normTitles []string
		doiIndex   = map[string]int{}
		titleIndex = map[string]int{}
		candidates int
	)

	for _, source := range providers {
		for i := range byProvider[source] {
			cand := &byProvider[source][i]
			candidates++

			doi := NormalizeDOI(cand.DOI)
			normTitle := NormalizeTitle(cand.Title)

			if idx, ok := c.match(doi, normTitle, doiIndex, titleIndex, normTitles); ok {
				mergeCandidate(&papers[idx], cand, doi)
				if doi != "" {
					if _, seen := doiIndex[doi]; !seen {
						doiIndex[doi] = idx
					}
				}
				if normTitle != "" {
					if _, seen := titleIndex[normTitle]; !seen {
						titleIndex[normTitle] = idx
					}
				}
				continue
			}

			paper := newPaper(cand, doi, len(papers))
			papers = append(papers, paper)
			normTitles = append(normTitles, normTitle)
			if doi != "" {
				doiIndex[doi] = len(papers) - 1
			}
			if normTitle != "" {
				titleIndex[normTitle] = len(papers) - 1
			}
		}
	}

	merged := candidates - len(papers)
	if c.metrics != nil {
		c.metrics.RecordCanonicalization(len(papers), merged)
	}
	c.logger.Info().
		Int("candidates", candidates).
		Int("papers", len(papers)).
		Int("merged", merged).
		Msg("canonicalization complete")

	return papers
}

// match finds the canonical paper index a candidate belongs to, if any.
func (c *Canonicalizer) match(doi, normTitle string, doiIndex, titleIndex map[string]int, normTitles []string) (int, bool) {
	if doi != "" {
		if idx, ok := doiIndex[doi]; ok {
			return idx, true
		}
	}
	if normTitle == "" {
		return 0, false
	}
	if idx, ok := titleIndex[normTitle]; ok {
		return idx, true
	}

	maxDistance := longTitleMaxDistance
	if len(normTitle) <= shortTitleLength {
		maxDistance = shortTitleMaxDistance
	}

	bestIdx, bestDistance := -1, maxDistance+1
	for idx, existing := range normTitles {
		if existing == "" {
			continue
		}
		distance := levenshtein.ComputeDistance(normTitle, existing)
		if distance < bestDistance {
			bestIdx, bestDistance = idx, distance
		}
	}
	if bestIdx >= 0 {
		return bestIdx, true
	}
	return 0, false
}

// newPaper starts a canonical paper from its first-seen candidate.
func newPaper(cand *domain.RawCandidate, doi string, arrival int) domain.CanonicalPaper {
	paper := domain.CanonicalPaper{
		PaperID:        uuid.NewString(),
		Title:          cand.Title,
		Year:           cand.Year,
		Abstract:       cand.Abstract,
		Authors:        cand.Authors,
		Venue:          cand.Venue,
		DOI:            doi,
		PubmedID:       cand.PubmedID,
		OpenAlexID:     cand.OpenAlexID,
		CitationCount:  cand.CitationCount,
		PDFURL:         cand.PDFURL,
		LandingPageURL: cand.LandingPageURL,
		IsRetracted:    cand.IsRetracted,
		IsPreprint:     cand.PreprintStatus == domain.PreprintStatusPreprint,
		Provenance: []domain.ProvenanceEntry{
			{Provider: cand.Source, RawID: cand.ID},
		},
		Arrival: arrival,
	}
	paper.AddPublicationTypes(cand.PublicationTypes)
	return paper
}

// mergeCandidate folds a candidate into an existing canonical paper. The
// abstract is replaced only when strictly longer, the citation count only
// when strictly greater, and identifiers only when previously missing. A
// peer-reviewed sighting from any provider clears the preprint flag.
func mergeCandidate(paper *domain.CanonicalPaper, cand *domain.RawCandidate, doi string) {
	if len(cand.Abstract) > len(paper.Abstract) {
		paper.Abstract = cand.Abstract
	}
	if cand.CitationCount > paper.CitationCount {
		paper.CitationCount = cand.CitationCount
	}
	if paper.Title == "" {
		paper.Title = cand.Title
	}
	if paper.Year == 0 {
		paper.Year = cand.Year
	}
	if len(paper.Authors) == 0 {
		paper.Authors = cand.Authors
	}
	if paper.Venue == "" {
		paper.Venue = cand.Venue
	}
	if paper.DOI == "" {
		paper.DOI = doi
	}
	if paper.PubmedID == "" {
		paper.PubmedID = cand.PubmedID
	}
	if paper.OpenAlexID == "" {
		paper.OpenAlexID = cand.OpenAlexID
	}
	if paper.PDFURL == "" {
		paper.PDFURL = cand.PDFURL
	}
	if paper.LandingPageURL == "" {
		paper.LandingPageURL = cand.LandingPageURL
	}
	if cand.IsRetracted {
		paper.IsRetracted = true
	}
	if cand.PreprintStatus == domain.PreprintStatusPeerReviewed {
		paper.IsPreprint = false
	}
	paper.AddPublicationTypes(cand.PublicationTypes)
	paper.Provenance = append(paper.Provenance, domain.ProvenanceEntry{
		Provider: cand.Source,
		RawID:    cand.ID,
	})
}
