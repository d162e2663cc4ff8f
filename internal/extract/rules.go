package extract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/evidencehq/litsearch/internal/domain"
)

const (
	outcomeBaseScore  = 0.2
	keyResultBonus    = 0.2
	effectSizeBonus   = 0.25
	pValueBonus       = 0.2
	interventionBonus = 0.15
	comparatorBonus   = 0.15
	snippetBonus      = 0.1
	snippetBonusChars = 20
	outcomeKeepScore  = 0.35

	minSampleSize = 2
	maxSampleSize = 10_000_000

	excerptChars         = 420
	populationChars      = 220
	outcomeChars         = 120
	fallbackSnippetChars = 280
)

var (
	effectPattern = regexp.MustCompile(`(?i)(?:\b(?:OR|RR|HR|SMD|MD|IRR|beta|Cohen'?s?\s*d|d)|β)\s*(?:=|:)\s*[-+]?\d+(?:\.\d+)?(?:\s*\([^)]*\))?`)
	ciPattern     = regexp.MustCompile(`(?i)\b(?:95%\s*CI|CI\s*95%|confidence\s*interval)\b[^.;]*`)
	pValuePattern = regexp.MustCompile(`(?i)\bp\s*(?:=|<|>|<=|>=)\s*0?\.\d+`)

	samplePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bn\s*=\s*(\d{2,7})\b`),
		regexp.MustCompile(`(?i)\b(\d{2,7})\s+(?:participants|patients|subjects|adults|children|individuals)\b`),
	}

	populationPattern = regexp.MustCompile(`(?i)\b(?:participants|patients|subjects|adults|children|pregnant|volunteers|individuals)\b`)

	reviewDesignPattern   = regexp.MustCompile(`\b(?:meta-analysis|meta analysis|systematic review|scoping review|literature review|review)\b`)
	rctDesignPattern      = regexp.MustCompile(`\b(?:randomized|randomised|randomly assigned|rct|controlled trial|clinical trial)\b`)
	cohortDesignPattern   = regexp.MustCompile(`\b(?:cohort|prospective|retrospective|follow-up|longitudinal)\b`)
	crossSectionalPattern = regexp.MustCompile(`\b(?:cross-sectional|cross sectional|prevalence survey|survey)\b`)

	comparisonPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([^.;,]{2,80}?)\s+(?:vs\.?|versus|compared\s+with|compared\s+to|against)\s+([^.;,]{2,80})`),
		regexp.MustCompile(`(?i)\brandomi[sz]ed\s+to\s+([^.;,]{2,80}?)\s+(?:or|versus|vs\.?|compared\s+with)\s+([^.;,]{2,80})`),
	}

	outcomePhrasePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:improv(?:ed|ement)?\s+in|increase(?:d)?\s+in|decrease(?:d)?\s+in|reduction\s+in|associated\s+with|effect\s+on)\s+([a-z0-9\s\-]{3,80})`),
		regexp.MustCompile(`(?i)([a-z0-9\s\-]{3,80})\s+(?:improved|increased|decreased|reduced|was\s+associated)`),
	}

	articlePattern     = regexp.MustCompile(`(?i)\b(?:the|a|an)\b`)
	nonAlnumPattern    = regexp.MustCompile(`[^a-z0-9\s]`)
	hyphenBreakPattern = regexp.MustCompile(`-\s*\n\s*`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// resultMarkers gate which sentences are scanned for outcomes. A sentence
// containing none of them is assumed to carry background, not results.
var resultMarkers = []string{
	"significant", "associated", "increase", "decrease", "improv", "reduc",
	"odds ratio", "hazard ratio", "risk ratio", "confidence interval",
	"p=", "p <", "p>", "versus", "vs", "compared",
}

type parsedOutcome struct {
	outcome    domain.Outcome
	confidence float64
}

func normalizeWhitespace(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\t", " ")
	text = hyphenBreakPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// splitSentences cuts normalized text after terminal punctuation followed by
// a space. No abbreviation awareness: "e.g. x" splits like any sentence end.
func splitSentences(text string) []string {
	normalized := normalizeWhitespace(text)
	if normalized == "" {
		return nil
	}

	var sentences []string
	runes := []rune(normalized)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && runes[i+1] == ' ' {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 2
			i++
		}
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func classifyStudyDesign(text string) domain.StudyDesign {
	lowered := strings.ToLower(text)
	switch {
	case reviewDesignPattern.MatchString(lowered):
		return domain.StudyDesignReview
	case rctDesignPattern.MatchString(lowered):
		return domain.StudyDesignRCT
	case cohortDesignPattern.MatchString(lowered):
		return domain.StudyDesignCohort
	case crossSectionalPattern.MatchString(lowered):
		return domain.StudyDesignCrossSectional
	default:
		return domain.StudyDesignUnknown
	}
}

func classifyReviewType(text string) domain.ReviewType {
	lowered := strings.ToLower(text)
	if strings.Contains(lowered, "meta-analysis") || strings.Contains(lowered, "meta analysis") {
		return domain.ReviewTypeMeta
	}
	if strings.Contains(lowered, "systematic review") {
		return domain.ReviewTypeSystematic
	}
	return domain.ReviewTypeNone
}

func extractSampleSize(text string) *int {
	for _, pattern := range samplePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if value >= minSampleSize && value <= maxSampleSize {
			return &value
		}
	}
	return nil
}

func extractPopulation(text string) *string {
	for _, sentence := range splitSentences(text) {
		if populationPattern.MatchString(sentence) {
			s := truncateRunes(sentence, populationChars)
			return &s
		}
	}
	return nil
}

func extractInterventionComparator(sentence string) (intervention, comparator *string) {
	for _, pattern := range comparisonPatterns {
		match := pattern.FindStringSubmatch(sentence)
		if match == nil {
			continue
		}
		left := strings.TrimPrefix(normalizeWhitespace(match[1]), "the ")
		right := strings.TrimPrefix(normalizeWhitespace(match[2]), "the ")
		if left != "" && right != "" {
			return &left, &right
		}
	}
	return nil, nil
}

// inferOutcome names what a result sentence measured. Phrase patterns run
// first; when neither matches, the first eight meaningful tokens stand in.
func inferOutcome(sentence string) string {
	for _, pattern := range outcomePhrasePatterns {
		match := pattern.FindStringSubmatch(sentence)
		if match == nil || match[1] == "" {
			continue
		}
		outcome := strings.TrimSpace(articlePattern.ReplaceAllString(normalizeWhitespace(match[1]), ""))
		if utf8.RuneCountInString(outcome) >= 3 {
			return truncateRunes(outcome, outcomeChars)
		}
	}

	cleaned := nonAlnumPattern.ReplaceAllString(strings.ToLower(sentence), " ")
	var tokens []string
	for _, token := range strings.Fields(cleaned) {
		if len(token) > 2 {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) > 8 {
		tokens = tokens[:8]
	}
	if joined := strings.Join(tokens, " "); joined != "" {
		return joined
	}
	return "reported outcome"
}

func scoreOutcome(o domain.Outcome) float64 {
	score := outcomeBaseScore
	if o.KeyResult != nil && *o.KeyResult != "" {
		score += keyResultBonus
	}
	if o.EffectSize != nil && *o.EffectSize != "" {
		score += effectSizeBonus
	}
	if o.PValue != nil && *o.PValue != "" {
		score += pValueBonus
	}
	if o.Intervention != nil && *o.Intervention != "" {
		score += interventionBonus
	}
	if o.Comparator != nil && *o.Comparator != "" {
		score += comparatorBonus
	}
	if utf8.RuneCountInString(o.CitationSnippet) >= snippetBonusChars {
		score += snippetBonus
	}
	return math.Max(0, math.Min(1, score))
}

func dedupeParsed(items []parsedOutcome) []parsedOutcome {
	seen := make(map[string]bool, len(items))
	var output []parsedOutcome
	for _, item := range items {
		key := strings.Join([]string{
			strings.TrimSpace(strings.ToLower(item.outcome.OutcomeMeasured)),
			strings.TrimSpace(strings.ToLower(deref(item.outcome.EffectSize))),
			strings.TrimSpace(strings.ToLower(deref(item.outcome.PValue))),
			strings.TrimSpace(whitespacePattern.ReplaceAllString(strings.ToLower(item.outcome.CitationSnippet), " ")),
		}, "|")
		if seen[key] {
			continue
		}
		seen[key] = true
		output = append(output, item)
	}
	return output
}

// extractOutcomes parses outcome records from result sentences:
//
//  1. Sentences without a result marker are skipped.
//  2. Each marked sentence yields one outcome candidate with whatever the
//     effect, p-value/CI, and comparison patterns find in it.
//  3. Candidates are deduplicated and those scoring below the confidence
//     floor are dropped; when none survive, the single best candidate is
//     kept, or the opening sentence stands in as a last resort.
func extractOutcomes(text string) []domain.Outcome {
	sentences := splitSentences(text)

	var candidates []parsedOutcome
	for _, sentence := range sentences {
		lowered := strings.ToLower(sentence)
		if !containsAnyMarker(lowered) {
			continue
		}

		intervention, comparator := extractInterventionComparator(sentence)
		outcome := domain.Outcome{
			OutcomeMeasured: inferOutcome(sentence),
			KeyResult:       strPtr(sentence),
			CitationSnippet: sentence,
			Intervention:    intervention,
			Comparator:      comparator,
		}
		if match := effectPattern.FindString(sentence); match != "" {
			outcome.EffectSize = strPtr(normalizeWhitespace(match))
		}
		if match := pValuePattern.FindString(sentence); match != "" {
			outcome.PValue = strPtr(normalizeWhitespace(match))
		} else if match := ciPattern.FindString(sentence); match != "" {
			outcome.PValue = strPtr(normalizeWhitespace(match))
		}
		candidates = append(candidates, parsedOutcome{outcome: outcome, confidence: scoreOutcome(outcome)})
	}

	deduped := dedupeParsed(candidates)

	var kept []domain.Outcome
	for _, item := range deduped {
		if item.confidence >= outcomeKeepScore {
			kept = append(kept, item.outcome)
		}
	}
	if len(kept) > 0 {
		return kept
	}

	if len(deduped) > 0 {
		best := deduped[0]
		for _, item := range deduped[1:] {
			if item.confidence > best.confidence {
				best = item
			}
		}
		return []domain.Outcome{best.outcome}
	}

	if len(sentences) > 0 {
		fallback := truncateRunes(sentences[0], fallbackSnippetChars)
		return []domain.Outcome{{
			OutcomeMeasured: inferOutcome(fallback),
			KeyResult:       strPtr(fallback),
			CitationSnippet: fallback,
		}}
	}

	return nil
}

func containsAnyMarker(lowered string) bool {
	for _, marker := range resultMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// excerpt bounds text to the excerpt budget, marking the cut with an ellipsis.
func excerpt(text string) string {
	normalized := normalizeWhitespace(text)
	runes := []rune(normalized)
	if len(runes) <= excerptChars {
		return normalized
	}
	return string(runes[:excerptChars-1]) + "..."
}

func formatCitation(p *domain.CanonicalPaper) string {
	author := "Unknown"
	if len(p.Authors) > 0 && strings.TrimSpace(p.Authors[0].Name) != "" {
		author = strings.TrimSpace(p.Authors[0].Name)
	}
	return strings.TrimSpace(fmt.Sprintf("%s (%d). %s.", author, p.Year, p.Title))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
