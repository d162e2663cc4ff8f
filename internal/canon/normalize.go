// Package canon merges raw provider candidates into canonical paper
// identities. One canonical paper exists per real-world paper regardless of
// how many providers returned it.
package canon

import (
	"sort"
	"strings"
	"unicode"
)

// doiPrefixes are the resolver and scheme prefixes stripped during DOI
// normalization. Order matters: URL forms are stripped before the bare
// doi: scheme so "https://doi.org/doi:10.x" still normalizes.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI returns the canonical form of a DOI: resolver URL prefixes
// and the doi: scheme stripped, lower-cased, trimmed. Empty input returns "".
func NormalizeDOI(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	if doi == "" {
		return ""
	}
	for _, prefix := range doiPrefixes {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return strings.TrimSpace(doi)
}

// NormalizeTitle reduces a title to a matching key: lower-cased, punctuation
// stripped, whitespace collapsed, tokens sorted. Token sorting makes the key
// insensitive to word order so reordered subtitle variants still match.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
