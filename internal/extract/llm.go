package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/llm"
	"github.com/evidencehq/litsearch/internal/observability"
)

const (
	defaultBatchSize    = 8
	promptAbstractChars = 2500
)

const extractionSystemPrompt = `You are an expert at reading scientific abstracts and extracting structured study data. You only report what the text states; you never infer or invent values. You respond with JSON only, no prose and no code fences.`

const extractionPromptTemplate = `Extract structured study data from each paper below.

Guidelines:
1. study_design is one of: RCT, cohort, cross-sectional, review, unknown. Use unknown unless the text names the design.
2. review_type is one of: None, Systematic review, Meta-analysis.
3. sample_size is the total number of participants as an integer, or null when not stated.
4. population is a verbatim phrase describing who was studied, or null.
5. Every outcome needs outcome_measured and a citation_snippet copied verbatim from the abstract. effect_size, p_value, intervention, and comparator are null unless the text states them.
6. Include every paper exactly once, keyed by its study_id.

Respond with JSON matching this schema exactly:
{"studies": [{"study_id": "...", "study_design": "...", "review_type": "...", "sample_size": 123, "population": "...", "outcomes": [{"outcome_measured": "...", "key_result": "...", "citation_snippet": "...", "intervention": null, "comparator": null, "effect_size": null, "p_value": null}]}]}

Research question: %s

Papers:
%s`

// llmResponse is the schema the collaborator must return.
type llmResponse struct {
	Studies []llmStudy `json:"studies" validate:"dive"`
}

type llmStudy struct {
	StudyID     string       `json:"study_id" validate:"required"`
	StudyDesign string       `json:"study_design" validate:"required"`
	ReviewType  string       `json:"review_type"`
	SampleSize  *int         `json:"sample_size"`
	Population  *string      `json:"population"`
	Outcomes    []llmOutcome `json:"outcomes" validate:"dive"`
}

type llmOutcome struct {
	OutcomeMeasured string  `json:"outcome_measured" validate:"required"`
	KeyResult       *string `json:"key_result"`
	CitationSnippet string  `json:"citation_snippet"`
	Intervention    *string `json:"intervention"`
	Comparator      *string `json:"comparator"`
	EffectSize      *string `json:"effect_size"`
	PValue          *string `json:"p_value"`
}

// LLM extracts study records by prompting a text-generation collaborator
// with batches of abstracts.
type LLM struct {
	gen         llm.TextGenerator
	batchSize   int
	concurrency int
	validate    *validator.Validate
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// NewLLM creates an LLM-backed extractor. metrics may be nil in tests.
func NewLLM(gen llm.TextGenerator, batchSize, concurrency int, logger zerolog.Logger, metrics *observability.Metrics) *LLM {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LLM{
		gen:         gen,
		batchSize:   batchSize,
		concurrency: concurrency,
		validate:    validator.New(),
		logger:      logger.With().Str("component", "extract_llm").Logger(),
		metrics:     metrics,
	}
}

// Extract prompts the collaborator with constant-size batches of papers,
// running up to the configured number of batches concurrently. A batch whose
// response cannot be parsed after one repair attempt is dropped, not guessed
// at; Extract errors only when every batch failed or the context ended.
func (l *LLM) Extract(ctx context.Context, query string, papers []domain.CanonicalPaper) ([]domain.StudyResult, error) {
	if len(papers) == 0 {
		return nil, nil
	}

	batches := batchPapers(papers, l.batchSize)

	var (
		mu      sync.Mutex
		results []domain.StudyResult
		failed  int
	)
	jobs := make(chan []domain.CanonicalPaper)
	var wg sync.WaitGroup
	workers := l.concurrency
	if workers > len(batches) {
		workers = len(batches)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				batchResults, err := l.extractBatch(ctx, query, batch)
				mu.Lock()
				if err != nil {
					failed++
					l.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("extraction batch dropped")
					if l.metrics != nil {
						l.metrics.RecordExtractionFailed(ModeLLM)
					}
				} else {
					results = append(results, batchResults...)
				}
				mu.Unlock()
			}
		}()
	}
	for _, batch := range batches {
		jobs <- batch
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed == len(batches) {
		return nil, fmt.Errorf("all %d extraction batches failed", len(batches))
	}
	return results, nil
}

func (l *LLM) extractBatch(ctx context.Context, query string, batch []domain.CanonicalPaper) ([]domain.StudyResult, error) {
	prompt := buildExtractionPrompt(query, batch)

	start := time.Now()
	generated, err := l.gen.Generate(ctx, llm.GenerateRequest{
		System:   extractionSystemPrompt,
		Prompt:   prompt,
		JSONMode: true,
	})
	if l.metrics != nil {
		l.metrics.RecordLLMRequest(time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("generating extraction: %w", err)
	}

	studies, parseErr := l.parseResponse(generated.Text)
	if parseErr != nil {
		repaired, repairErr := repairJSON(generated.Text)
		if repairErr != nil {
			return nil, fmt.Errorf("parsing extraction response: %w", parseErr)
		}
		studies, parseErr = l.parseResponse(repaired)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing repaired extraction response: %w", parseErr)
		}
	}

	return l.mapStudies(studies, batch), nil
}

func (l *LLM) parseResponse(text string) ([]llmStudy, error) {
	var resp llmResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling: %w", err)
	}
	if err := l.validate.Struct(&resp); err != nil {
		return nil, fmt.Errorf("validating schema: %w", err)
	}
	for i := range resp.Studies {
		study := &resp.Studies[i]
		if !validStudyDesign(study.StudyDesign) {
			return nil, fmt.Errorf("invalid study_design %q for study %s", study.StudyDesign, study.StudyID)
		}
		if study.ReviewType == "" {
			study.ReviewType = string(domain.ReviewTypeNone)
		}
		if !validReviewType(study.ReviewType) {
			return nil, fmt.Errorf("invalid review_type %q for study %s", study.ReviewType, study.StudyID)
		}
	}
	return resp.Studies, nil
}

// mapStudies joins response studies back to their batch papers by study id.
// Response entries that match no batch paper are discarded; batch papers the
// response omitted still yield a shell record so no paper is silently lost.
func (l *LLM) mapStudies(studies []llmStudy, batch []domain.CanonicalPaper) []domain.StudyResult {
	byID := make(map[string]*domain.CanonicalPaper, len(batch))
	for i := range batch {
		byID[batch[i].PaperID] = &batch[i]
	}

	results := make([]domain.StudyResult, 0, len(batch))
	mapped := make(map[string]bool, len(studies))
	for _, study := range studies {
		paper, ok := byID[study.StudyID]
		if !ok {
			l.logger.Warn().Str("study_id", study.StudyID).Msg("response study matches no batch paper")
			continue
		}
		if mapped[study.StudyID] {
			continue
		}
		mapped[study.StudyID] = true

		result := studyShell(paper)
		result.StudyDesign = domain.StudyDesign(study.StudyDesign)
		result.ReviewType = domain.ReviewType(study.ReviewType)
		result.SampleSize = study.SampleSize
		result.Population = normalizeOptional(study.Population)
		result.Outcomes = mapOutcomes(study.Outcomes)
		results = append(results, result)
	}

	for i := range batch {
		if !mapped[batch[i].PaperID] {
			l.logger.Debug().Str("paper_id", batch[i].PaperID).Msg("response omitted paper, keeping shell record")
			results = append(results, studyShell(&batch[i]))
		}
	}
	return results
}

func mapOutcomes(outcomes []llmOutcome) []domain.Outcome {
	if len(outcomes) == 0 {
		return nil
	}
	mapped := make([]domain.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		mapped = append(mapped, domain.Outcome{
			OutcomeMeasured: strings.TrimSpace(o.OutcomeMeasured),
			KeyResult:       normalizeOptional(o.KeyResult),
			CitationSnippet: strings.TrimSpace(o.CitationSnippet),
			Intervention:    normalizeOptional(o.Intervention),
			Comparator:      normalizeOptional(o.Comparator),
			EffectSize:      normalizeOptional(o.EffectSize),
			PValue:          normalizeOptional(o.PValue),
		})
	}
	return mapped
}

// normalizeOptional maps blank optional strings to nil so downstream tiering
// treats "" and null alike.
func normalizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func validStudyDesign(design string) bool {
	switch domain.StudyDesign(design) {
	case domain.StudyDesignRCT, domain.StudyDesignCohort, domain.StudyDesignCrossSectional,
		domain.StudyDesignReview, domain.StudyDesignUnknown:
		return true
	default:
		return false
	}
}

func validReviewType(reviewType string) bool {
	switch domain.ReviewType(reviewType) {
	case domain.ReviewTypeNone, domain.ReviewTypeSystematic, domain.ReviewTypeMeta:
		return true
	default:
		return false
	}
}

func batchPapers(papers []domain.CanonicalPaper, size int) [][]domain.CanonicalPaper {
	var batches [][]domain.CanonicalPaper
	for start := 0; start < len(papers); start += size {
		end := start + size
		if end > len(papers) {
			end = len(papers)
		}
		batches = append(batches, papers[start:end])
	}
	return batches
}

func buildExtractionPrompt(query string, batch []domain.CanonicalPaper) string {
	var b strings.Builder
	for i := range batch {
		paper := &batch[i]
		fmt.Fprintf(&b, "study_id: %s\n", paper.PaperID)
		fmt.Fprintf(&b, "title: %s\n", paper.Title)
		if paper.Year != 0 {
			fmt.Fprintf(&b, "year: %d\n", paper.Year)
		}
		fmt.Fprintf(&b, "abstract: %s\n\n", truncateRunes(normalizeWhitespace(paper.Abstract), promptAbstractChars))
	}
	return fmt.Sprintf(extractionPromptTemplate, query, strings.TrimSpace(b.String()))
}
