package extract

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/observability"
	"github.com/evidencehq/litsearch/internal/pdfextract"
)

// Deterministic extracts study records from paper abstracts with pattern
// rules. It never infers unstated fields: anything the rules cannot find
// stays null.
type Deterministic struct {
	pdf     *pdfextract.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewDeterministic creates a rule-based extractor. pdf may be nil when no
// PDF collaborator is configured; metrics may be nil in tests.
func NewDeterministic(pdf *pdfextract.Client, logger zerolog.Logger, metrics *observability.Metrics) *Deterministic {
	return &Deterministic{
		pdf:     pdf,
		logger:  logger.With().Str("component", "extract_deterministic").Logger(),
		metrics: metrics,
	}
}

// Extract builds one StudyResult per paper:
//
//  1. Classify study design and review type from the title and abstract.
//  2. Parse sample size, population, and outcome sentences from the abstract.
//  3. When a PDF collaborator is configured and the paper carries a PDF URL,
//     fold the collaborator's outcomes into the result.
//
// Rule misses never drop a paper: a record with unparsed fields is still
// returned and tiers as partial downstream.
func (d *Deterministic) Extract(ctx context.Context, papers []domain.CanonicalPaper) []domain.StudyResult {
	results := make([]domain.StudyResult, 0, len(papers))
	for i := range papers {
		results = append(results, d.extractOne(ctx, &papers[i]))
	}
	return results
}

func (d *Deterministic) extractOne(ctx context.Context, paper *domain.CanonicalPaper) domain.StudyResult {
	text := normalizeWhitespace(paper.Abstract)
	if text == "" {
		text = normalizeWhitespace(paper.Title)
	}
	classifierInput := paper.Title + ". " + text

	design := classifyStudyDesign(classifierInput)
	reviewType := classifyReviewType(classifierInput)
	if design == domain.StudyDesignUnknown && reviewType != domain.ReviewTypeNone {
		design = domain.StudyDesignReview
	}

	result := studyShell(paper)
	result.StudyDesign = design
	result.ReviewType = reviewType
	result.SampleSize = extractSampleSize(text)
	result.Population = extractPopulation(text)
	result.Outcomes = extractOutcomes(text)

	if d.pdf != nil && paper.PDFURL != "" {
		d.foldPDFOutcomes(ctx, paper, &result)
	}
	return result
}

// foldPDFOutcomes unions the PDF collaborator's outcomes into the result.
// Collaborator failures fall back to the abstract-only record.
func (d *Deterministic) foldPDFOutcomes(ctx context.Context, paper *domain.CanonicalPaper, result *domain.StudyResult) {
	pdfResult, err := d.pdf.Extract(ctx, paper.PDFURL)
	if err != nil {
		d.logger.Debug().
			Err(err).
			Str("paper_id", paper.PaperID).
			Msg("pdf extraction failed, keeping abstract outcomes")
		return
	}
	result.MergeOutcomes(pdfResult.Outcomes)
}
