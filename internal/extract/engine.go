// Package extract turns ranked candidate papers into structured study
// records. A deterministic pattern-rule extractor and an LLM-backed
// extractor are interchangeable strategies; hybrid mode runs the rules first
// and falls back to the collaborator only when the rules produce nothing
// strict-tier.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/observability"
)

// Extraction strategy names accepted by NewEngine.
const (
	ModeDeterministic = "deterministic"
	ModeLLM           = "llm"
	ModeHybrid        = "hybrid"
)

const defaultMaxPapers = 45

// Engine runs the configured extraction strategy over ranked papers, merges
// the results by study id, and assigns completeness tiers.
type Engine struct {
	mode          string
	maxPapers     int
	deterministic *Deterministic
	llm           *LLM
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

// NewEngine wires the strategies for the given mode. llmExtractor may be nil
// unless the mode is "llm"; in hybrid mode a nil llmExtractor simply disables
// the fallback. metrics may be nil in tests.
func NewEngine(mode string, maxPapers int, deterministic *Deterministic, llmExtractor *LLM, logger zerolog.Logger, metrics *observability.Metrics) (*Engine, error) {
	switch mode {
	case ModeDeterministic, ModeHybrid:
		if deterministic == nil {
			return nil, fmt.Errorf("extraction mode %q requires the deterministic extractor", mode)
		}
	case ModeLLM:
		if llmExtractor == nil {
			return nil, fmt.Errorf("extraction mode %q requires an LLM extractor", mode)
		}
	default:
		return nil, fmt.Errorf("unsupported extraction mode: %q", mode)
	}
	if maxPapers <= 0 {
		maxPapers = defaultMaxPapers
	}
	return &Engine{
		mode:          mode,
		maxPapers:     maxPapers,
		deterministic: deterministic,
		llm:           llmExtractor,
		logger:        logger.With().Str("component", "extract_engine").Logger(),
		metrics:       metrics,
	}, nil
}

// Extract produces tiered study results for the ranked papers:
//
//  1. Cap the input to the extraction budget.
//  2. Run the configured strategy. Hybrid runs the rules first and prefers
//     the LLM's output only when the rules yield zero strict-tier results
//     and the LLM yields at least one.
//  3. Merge results that landed on the same study id.
//  4. Assign completeness tiers; partial results are kept and labeled,
//     never dropped.
func (e *Engine) Extract(ctx context.Context, query string, papers []domain.CanonicalPaper) ([]domain.StudyResult, error) {
	start := time.Now()

	if len(papers) > e.maxPapers {
		e.logger.Debug().
			Int("papers", len(papers)).
			Int("max_papers", e.maxPapers).
			Msg("capping extraction input")
		papers = papers[:e.maxPapers]
	}
	if len(papers) == 0 {
		return nil, nil
	}

	results, strategy, err := e.run(ctx, query, papers)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordExtractionFailed(strategy)
		}
		return nil, err
	}

	results = mergeByStudyID(results)
	assignTiers(results)

	duration := time.Since(start)
	strict, partial := tierCounts(results)
	if e.metrics != nil {
		e.metrics.RecordExtraction(strategy, duration, strict, partial)
	}
	e.logger.Info().
		Str("strategy", strategy).
		Int("papers", len(papers)).
		Int("results", len(results)).
		Int("strict", strict).
		Int("partial", partial).
		Dur("duration", duration).
		Msg("extraction completed")
	return results, nil
}

func (e *Engine) run(ctx context.Context, query string, papers []domain.CanonicalPaper) ([]domain.StudyResult, string, error) {
	switch e.mode {
	case ModeDeterministic:
		return e.deterministic.Extract(ctx, papers), ModeDeterministic, nil

	case ModeLLM:
		results, err := e.llm.Extract(ctx, query, papers)
		return results, ModeLLM, err

	default:
		detResults := e.deterministic.Extract(ctx, papers)
		if strictCount(detResults) > 0 || e.llm == nil {
			return detResults, ModeDeterministic, nil
		}
		llmResults, err := e.llm.Extract(ctx, query, papers)
		if err != nil {
			e.logger.Warn().Err(err).Msg("llm fallback failed, keeping rule results")
			return detResults, ModeDeterministic, nil
		}
		if strictCount(llmResults) > 0 {
			return llmResults, ModeLLM, nil
		}
		return detResults, ModeDeterministic, nil
	}
}

// studyShell seeds a StudyResult with the fields that come from the paper
// itself rather than from any extraction strategy.
func studyShell(paper *domain.CanonicalPaper) domain.StudyResult {
	status := domain.PreprintStatusPeerReviewed
	if paper.IsPreprint {
		status = domain.PreprintStatusPreprint
	}
	var source domain.SourceType
	if len(paper.Provenance) > 0 {
		source = paper.Provenance[0].Provider
	}
	excerptSource := paper.Abstract
	if excerptSource == "" {
		excerptSource = paper.Title
	}
	return domain.StudyResult{
		StudyID: paper.PaperID,
		Title:   paper.Title,
		Year:    paper.Year,
		Citation: domain.Citation{
			DOI:        paper.DOI,
			PubmedID:   paper.PubmedID,
			OpenAlexID: paper.OpenAlexID,
			Formatted:  formatCitation(paper),
		},
		AbstractExcerpt: excerpt(excerptSource),
		PreprintStatus:  status,
		Source:          source,
		CitationCount:   paper.CitationCount,
		PDFURL:          paper.PDFURL,
		LandingPageURL:  paper.LandingPageURL,
		StudyDesign:     domain.StudyDesignUnknown,
		ReviewType:      domain.ReviewTypeNone,
	}
}

// mergeByStudyID unions results that landed on the same study: outcome lists
// are deduplicated and the longer abstract excerpt wins. First arrival keeps
// its position.
func mergeByStudyID(results []domain.StudyResult) []domain.StudyResult {
	merged := make([]domain.StudyResult, 0, len(results))
	index := make(map[string]int, len(results))
	for _, result := range results {
		at, ok := index[result.StudyID]
		if !ok {
			index[result.StudyID] = len(merged)
			merged = append(merged, result)
			continue
		}
		existing := &merged[at]
		existing.MergeOutcomes(result.Outcomes)
		if len(result.AbstractExcerpt) > len(existing.AbstractExcerpt) {
			existing.AbstractExcerpt = result.AbstractExcerpt
		}
	}
	return merged
}

func assignTiers(results []domain.StudyResult) {
	for i := range results {
		if results[i].IsComplete() {
			results[i].CompletenessTier = domain.TierStrict
		} else {
			results[i].CompletenessTier = domain.TierPartial
		}
	}
}

func strictCount(results []domain.StudyResult) int {
	count := 0
	for i := range results {
		if results[i].IsComplete() {
			count++
		}
	}
	return count
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
