package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evidencehq/litsearch/internal/domain"
)

// CacheRepository provides the two read-through caches: search responses
// keyed by request hash and canonical papers keyed by paper ID.
type CacheRepository interface {
	// GetSearchID returns the cached search for a request key, or
	// domain.ErrNotFound when the entry is absent or expired.
	GetSearchID(ctx context.Context, cacheKey string) (uuid.UUID, error)

	// PutSearch stores a search under the request key with the given TTL,
	// replacing any previous entry.
	PutSearch(ctx context.Context, cacheKey string, searchID uuid.UUID, ttl time.Duration) error

	// GetPaper returns a cached canonical paper, or domain.ErrNotFound
	// when absent or expired.
	GetPaper(ctx context.Context, paperID string) (*domain.CanonicalPaper, error)

	// PutPapers upserts canonical papers with the given TTL.
	PutPapers(ctx context.Context, papers []domain.CanonicalPaper, ttl time.Duration) error
}

// cacheKeyPayload is the normalized request shape hashed into a cache key.
// Field order is fixed by the struct so the serialization is stable.
type cacheKeyPayload struct {
	Query           string   `json:"query"`
	FromYear        int      `json:"from_year"`
	ToYear          int      `json:"to_year"`
	Languages       []string `json:"languages"`
	ExcludePreprint bool     `json:"exclude_preprints"`
	MaxCandidates   int      `json:"max_candidates"`
	MaxEvidenceRows int      `json:"max_evidence_rows"`
	Domain          string   `json:"domain"`
}

// CacheKey derives the stable search-cache key from a sanitized request:
// a sha256 hex digest over the lower-cased trimmed query, the filters with
// languages sorted, the clamped limits, and the domain hint. Identical
// repeated queries hash to the same key regardless of language order.
func CacheKey(query string, filters domain.SearchFilters, maxCandidates, maxEvidenceRows int, searchDomain string) string {
	languages := append([]string(nil), filters.Languages...)
	for i := range languages {
		languages[i] = strings.ToLower(strings.TrimSpace(languages[i]))
	}
	sort.Strings(languages)

	payload := cacheKeyPayload{
		Query:           strings.ToLower(strings.Join(strings.Fields(query), " ")),
		FromYear:        filters.FromYear,
		ToYear:          filters.ToYear,
		Languages:       languages,
		ExcludePreprint: filters.ExcludePreprints,
		MaxCandidates:   maxCandidates,
		MaxEvidenceRows: maxEvidenceRows,
		Domain:          strings.ToLower(strings.TrimSpace(searchDomain)),
	}

	// Marshaling a struct with only scalar and slice fields cannot fail.
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
