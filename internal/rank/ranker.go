// Package rank orders quality-kept papers by relevance to the search
// query before extraction.
package rank

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/domain"
)

// Scoring weights and caps. The keyword overlap dominates; abstract
// length and citation count each contribute at most one point.
const (
	overlapWeight       = 3.0
	abstractLengthDenom = 2000.0
	citationLogDenom    = 3.0
)

// stopwords are dropped from the query before keyword matching.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {},
	"were": {}, "what": {}, "which": {}, "with": {},
}

// Ranker scores and orders canonical papers for one query.
type Ranker struct {
	logger zerolog.Logger
}

// NewRanker creates a ranker.
func NewRanker(logger zerolog.Logger) *Ranker {
	return &Ranker{logger: logger.With().Str("component", "ranker").Logger()}
}

// Rank orders papers by descending relevance and truncates the result:
//
//  1. Extract query keywords (lowercased, stopwords removed).
//  2. Score each paper: 3 x keyword overlap + capped abstract length
//     score + capped log-citation score. The score is stored on the
//     paper's RelevanceScore field.
//  3. Stable-sort descending by score; ties keep arrival order.
//  4. Truncate to maxCandidates when set.
func (r *Ranker) Rank(query string, papers []domain.CanonicalPaper, maxCandidates int) []domain.CanonicalPaper {
	keywords := queryKeywords(query)

	ranked := make([]domain.CanonicalPaper, len(papers))
	copy(ranked, papers)
	for i := range ranked {
		ranked[i].RelevanceScore = score(keywords, &ranked[i])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RelevanceScore != ranked[j].RelevanceScore {
			return ranked[i].RelevanceScore > ranked[j].RelevanceScore
		}
		return ranked[i].Arrival < ranked[j].Arrival
	})

	if maxCandidates > 0 && len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}

	r.logger.Debug().
		Int("papers", len(papers)).
		Int("ranked", len(ranked)).
		Int("query_keywords", len(keywords)).
		Msg("papers ranked")

	return ranked
}

// score computes the combined relevance score for one paper.
func score(keywords []string, paper *domain.CanonicalPaper) float64 {
	overlap := overlapScore(keywords, paper)
	abstractScore := math.Min(float64(len(paper.Abstract))/abstractLengthDenom, 1)
	citationScore := math.Min(math.Log10(float64(paper.CitationCount)+1)/citationLogDenom, 1)
	return overlapWeight*overlap + abstractScore + citationScore
}

// overlapScore is the fraction of query keywords present in the paper's
// title or abstract tokens. Zero when the query has no keywords.
func overlapScore(keywords []string, paper *domain.CanonicalPaper) float64 {
	if len(keywords) == 0 {
		return 0
	}

	tokens := make(map[string]struct{})
	for _, tok := range tokenize(paper.Title) {
		tokens[tok] = struct{}{}
	}
	for _, tok := range tokenize(paper.Abstract) {
		tokens[tok] = struct{}{}
	}

	matched := 0
	for _, kw := range keywords {
		if _, ok := tokens[kw]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// queryKeywords tokenizes the query and drops stopwords and duplicates.
func queryKeywords(query string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, tok := range tokenize(query) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// tokenize lowercases text and splits it on any non-letter, non-digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
