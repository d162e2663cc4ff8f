// Package evidence assembles the two user-facing outputs of a pipeline run:
// a flat evidence table of atomic claims with citation anchors, and a short
// narrative brief whose every sentence cites papers from that table.
package evidence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
)

const (
	defaultMaxRows    = 50
	claimHeadChars    = 240
	briefCitationsCap = 3
)

// Builder turns tiered study results and canonical papers into an evidence
// table and brief.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates an evidence builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{
		logger: logger.With().Str("component", "evidence_builder").Logger(),
	}
}

// Build produces the evidence table and brief for one run.
//
// The table carries one row per extracted outcome, claim text composed from
// the outcome's verbatim fields. Papers that survived quality filtering but
// produced no study result still get one fallback row anchored to the paper,
// with the abstract head as the claim, so the table reflects the whole kept
// corpus. Rows beyond maxRows are cut in input order.
//
// Every brief sentence cites at least one paper id present in the table's
// paper set; an empty table therefore yields an empty brief.
func (b *Builder) Build(papers []domain.CanonicalPaper, results []domain.StudyResult, coverage domain.CoverageReport, maxRows int) ([]domain.EvidenceRow, []domain.BriefSentence) {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	rows := b.buildTable(papers, results, maxRows)
	brief := b.buildBrief(rows, results, coverage)

	b.logger.Debug().
		Int("papers", len(papers)).
		Int("results", len(results)).
		Int("evidence_rows", len(rows)).
		Int("brief_sentences", len(brief)).
		Msg("evidence assembled")
	return rows, brief
}

func (b *Builder) buildTable(papers []domain.CanonicalPaper, results []domain.StudyResult, maxRows int) []domain.EvidenceRow {
	rows := make([]domain.EvidenceRow, 0, len(results))
	covered := make(map[string]bool, len(results))

	for _, result := range results {
		covered[result.StudyID] = true
		for i := range result.Outcomes {
			if len(rows) >= maxRows {
				return rows
			}
			idx := i
			rows = append(rows, domain.EvidenceRow{
				PaperID:   result.StudyID,
				ClaimText: claimText(&result.Outcomes[i]),
				Anchor: domain.CitationAnchor{
					PaperID:      result.StudyID,
					OutcomeIndex: &idx,
				},
			})
		}
	}

	for i := range papers {
		if len(rows) >= maxRows {
			break
		}
		paper := &papers[i]
		if covered[paper.PaperID] {
			continue
		}
		rows = append(rows, domain.EvidenceRow{
			PaperID:   paper.PaperID,
			ClaimText: fallbackClaim(paper),
			Anchor:    domain.CitationAnchor{PaperID: paper.PaperID},
		})
	}

	return rows
}

// claimText composes a claim from the outcome's verbatim fields, preferring
// the key result sentence and appending the quantitative qualifiers.
func claimText(o *domain.Outcome) string {
	base := o.CitationSnippet
	if o.KeyResult != nil && *o.KeyResult != "" {
		base = *o.KeyResult
	}
	if base == "" {
		base = o.OutcomeMeasured
	}

	var qualifiers []string
	if o.EffectSize != nil && *o.EffectSize != "" && !strings.Contains(base, *o.EffectSize) {
		qualifiers = append(qualifiers, *o.EffectSize)
	}
	if o.PValue != nil && *o.PValue != "" && !strings.Contains(base, *o.PValue) {
		qualifiers = append(qualifiers, *o.PValue)
	}
	if len(qualifiers) > 0 {
		base = strings.TrimSuffix(base, ".") + " (" + strings.Join(qualifiers, "; ") + ")"
	}
	return base
}

func fallbackClaim(paper *domain.CanonicalPaper) string {
	text := strings.TrimSpace(paper.Abstract)
	if text == "" {
		text = strings.TrimSpace(paper.Title)
	}
	runes := []rune(text)
	if len(runes) > claimHeadChars {
		text = string(runes[:claimHeadChars-1]) + "..."
	}
	return text
}

// buildBrief composes the template sentences: coverage, strongest evidence,
// design mix, and a caveat when the run degraded or produced nothing strict.
func (b *Builder) buildBrief(rows []domain.EvidenceRow, results []domain.StudyResult, coverage domain.CoverageReport) []domain.BriefSentence {
	if len(rows) == 0 {
		return nil
	}

	paperSet := make(map[string]bool, len(rows))
	var paperOrder []string
	for _, row := range rows {
		if !paperSet[row.PaperID] {
			paperSet[row.PaperID] = true
			paperOrder = append(paperOrder, row.PaperID)
		}
	}

	var brief []domain.BriefSentence

	answered := coverage.ProvidersQueried - coverage.ProvidersFailed
	brief = append(brief, domain.BriefSentence{
		Text: fmt.Sprintf("Evidence was retrieved from %d of %d providers, yielding %d papers with extractable findings.",
			answered, coverage.ProvidersQueried, len(paperOrder)),
		Citations: capCitations(paperOrder),
	})

	if strongest := strongestResult(results, paperSet); strongest != nil {
		brief = append(brief, domain.BriefSentence{
			Text: fmt.Sprintf("The strongest evidence comes from %s (%s, %d).",
				strongest.Citation.Formatted, designLabel(strongest.StudyDesign), strongest.Year),
			Citations: []string{strongest.StudyID},
		})
	}

	if sentence := designMixSentence(results, paperSet); sentence != nil {
		brief = append(brief, *sentence)
	}

	strict, _ := countTiers(results)
	if coverage.Degraded || strict == 0 {
		brief = append(brief, domain.BriefSentence{
			Text:      caveatText(coverage, strict),
			Citations: capCitations(paperOrder),
		})
	}

	return brief
}

// strongestResult picks the best strict-tier result present in the evidence
// set, preferring reviews over trials over observational designs and breaking
// ties by citation count.
func strongestResult(results []domain.StudyResult, paperSet map[string]bool) *domain.StudyResult {
	var best *domain.StudyResult
	for i := range results {
		r := &results[i]
		if r.CompletenessTier != domain.TierStrict || !paperSet[r.StudyID] {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if designWeight(r.StudyDesign) > designWeight(best.StudyDesign) {
			best = r
		} else if designWeight(r.StudyDesign) == designWeight(best.StudyDesign) && r.CitationCount > best.CitationCount {
			best = r
		}
	}
	return best
}

func designMixSentence(results []domain.StudyResult, paperSet map[string]bool) *domain.BriefSentence {
	counts := make(map[domain.StudyDesign]int)
	representative := make(map[domain.StudyDesign]string)
	for i := range results {
		r := &results[i]
		if !paperSet[r.StudyID] {
			continue
		}
		counts[r.StudyDesign]++
		if _, ok := representative[r.StudyDesign]; !ok {
			representative[r.StudyDesign] = r.StudyID
		}
	}
	if len(counts) == 0 {
		return nil
	}

	designs := make([]domain.StudyDesign, 0, len(counts))
	for design := range counts {
		designs = append(designs, design)
	}
	sort.Slice(designs, func(i, j int) bool {
		if counts[designs[i]] != counts[designs[j]] {
			return counts[designs[i]] > counts[designs[j]]
		}
		return designs[i] < designs[j]
	})

	parts := make([]string, 0, len(designs))
	citations := make([]string, 0, briefCitationsCap)
	for _, design := range designs {
		parts = append(parts, fmt.Sprintf("%d %s", counts[design], designLabel(design)))
		if len(citations) < briefCitationsCap {
			citations = append(citations, representative[design])
		}
	}

	return &domain.BriefSentence{
		Text:      "The corpus mixes " + strings.Join(parts, ", ") + " studies.",
		Citations: citations,
	}
}

func caveatText(coverage domain.CoverageReport, strict int) string {
	switch {
	case coverage.Degraded && strict == 0:
		return fmt.Sprintf("Caveat: %d providers failed during retrieval and no study met the strict completeness tier, so findings should be read as preliminary.",
			coverage.ProvidersFailed)
	case coverage.Degraded:
		return fmt.Sprintf("Caveat: %d providers failed during retrieval, so coverage of the literature is incomplete.",
			coverage.ProvidersFailed)
	default:
		return "Caveat: no study met the strict completeness tier; extracted findings are partial."
	}
}

func designLabel(design domain.StudyDesign) string {
	switch design {
	case domain.StudyDesignRCT:
		return "randomized trial"
	case domain.StudyDesignCohort:
		return "cohort"
	case domain.StudyDesignCrossSectional:
		return "cross-sectional"
	case domain.StudyDesignReview:
		return "review"
	default:
		return "unclassified"
	}
}

func designWeight(design domain.StudyDesign) int {
	switch design {
	case domain.StudyDesignReview:
		return 4
	case domain.StudyDesignRCT:
		return 3
	case domain.StudyDesignCohort:
		return 2
	case domain.StudyDesignCrossSectional:
		return 1
	default:
		return 0
	}
}

func countTiers(results []domain.StudyResult) (strict, partial int) {
	for i := range results {
		if results[i].CompletenessTier == domain.TierStrict {
			strict++
		} else {
			partial++
		}
	}
	return strict, partial
}

func capCitations(paperIDs []string) []string {
	if len(paperIDs) <= briefCitationsCap {
		return append([]string(nil), paperIDs...)
	}
	return append([]string(nil), paperIDs[:briefCitationsCap]...)
}
