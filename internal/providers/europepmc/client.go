package europepmc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/providers"
)

const (
	// DefaultBaseURL is the Europe PMC REST API base URL.
	DefaultBaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"

	// DefaultRateLimit is requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurst is the rate limiter burst size.
	DefaultBurst = 5

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the page size when the query does not set one.
	DefaultMaxResults = 100

	// maxPageSize is the largest pageSize the API accepts.
	maxPageSize = 1000

	sourceName = "Europe PMC"
)

// Config holds configuration for the Europe PMC client.
type Config struct {
	// BaseURL overrides the API base URL.
	BaseURL string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the sustained requests per second.
	RateLimit float64

	// Burst is the rate limiter burst size.
	Burst int

	// MaxResults is the page size when the query does not set one.
	MaxResults int

	// Enabled controls whether this provider participates in searches.
	Enabled bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.Burst == 0 {
		c.Burst = DefaultBurst
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client queries Europe PMC preprint records and converts them to raw
// candidates.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.Provider = (*Client)(nil)

// New creates a Europe PMC client with its own rate-limited HTTP client.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: providers.NewHTTPClient(providers.HTTPClientConfig{
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
		}),
	}
}

// NewWithHTTPClient creates a client around an existing HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries the preprint corpus (SRC:PPR) and returns candidates in
// API relevance order. Queries that exclude preprints return nothing
// without touching the API.
func (c *Client) Search(ctx context.Context, q providers.Query) ([]domain.RawCandidate, error) {
	if q.ExcludePreprints {
		return []domain.RawCandidate{}, nil
	}

	searchURL, err := c.buildSearchURL(q)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("europe pmc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewProviderError(sourceName, resp.StatusCode, string(body), nil)
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding europe pmc response: %w", err)
	}

	candidates := make([]domain.RawCandidate, 0, len(searchResp.ResultList.Result))
	for i := range searchResp.ResultList.Result {
		if cand, ok := articleToCandidate(&searchResp.ResultList.Result[i], len(candidates)); ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

// SourceType returns the stable provider identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeEuropePMC
}

// Name returns the human-readable provider name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the provider participates in searches.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL assembles the search endpoint URL. Year bounds become a
// FIRST_PDATE range clause ANDed onto the text query.
func (c *Client) buildSearchURL(q providers.Query) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/search"

	queryParts := []string{q.Text, "(SRC:PPR)"}
	if clause := dateClause(q.FromYear, q.ToYear); clause != "" {
		queryParts = append(queryParts, clause)
	}

	values := url.Values{}
	values.Set("query", strings.Join(queryParts, " AND "))
	values.Set("format", "json")
	values.Set("resultType", "core")

	pageSize := q.MaxResults
	if pageSize <= 0 || pageSize > c.config.MaxResults {
		pageSize = c.config.MaxResults
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	values.Set("pageSize", strconv.Itoa(pageSize))
	values.Set("cursorMark", "*")

	baseURL.RawQuery = values.Encode()
	return baseURL.String(), nil
}

// dateClause builds the FIRST_PDATE range filter, * for open ends.
func dateClause(fromYear, toYear int) string {
	if fromYear == 0 && toYear == 0 {
		return ""
	}

	from := "*"
	if fromYear > 0 {
		from = fmt.Sprintf("%04d-01-01", fromYear)
	}
	to := "*"
	if toYear > 0 {
		to = fmt.Sprintf("%04d-12-31", toYear)
	}
	return fmt.Sprintf("(FIRST_PDATE:[%s TO %s])", from, to)
}

// articleToCandidate converts one Europe PMC record. Records without any
// identifier are skipped.
func articleToCandidate(article *Article, rank int) (domain.RawCandidate, bool) {
	doi := canon.NormalizeDOI(article.DOI)

	id := strings.TrimSpace(article.ID)
	if id == "" {
		id = doi
	}
	if id == "" {
		return domain.RawCandidate{}, false
	}

	year := 0
	if article.FirstPublicationDate != "" {
		if t, err := time.Parse("2006-01-02", article.FirstPublicationDate); err == nil {
			year = t.Year()
		}
	}
	if year == 0 && article.PubYear != "" {
		year, _ = strconv.Atoi(article.PubYear)
	}

	var pubTypes []string
	if article.PubTypeList != nil {
		pubTypes = article.PubTypeList.PubTypes
	}

	landingURL := ""
	if doi != "" {
		landingURL = "https://doi.org/" + doi
	}

	return domain.RawCandidate{
		ID:               id,
		Title:            strings.TrimSpace(article.Title),
		Year:             year,
		Abstract:         strings.TrimSpace(article.AbstractText),
		Authors:          parseAuthorString(article.AuthorString),
		Venue:            strings.TrimSpace(article.JournalTitle),
		DOI:              doi,
		PubmedID:         strings.TrimSpace(article.PMID),
		Source:           domain.SourceTypeEuropePMC,
		CitationCount:    article.CitedByCount,
		PDFURL:           pdfURL(article, doi),
		LandingPageURL:   landingURL,
		PreprintStatus:   domain.PreprintStatusPreprint,
		PublicationTypes: pubTypes,
		RankSignal:       rank,
	}, true
}

// pdfURL picks the PDF location from the full-text list, falling back to
// the preprint server's content URL when the publisher is known.
func pdfURL(article *Article, doi string) string {
	if article.FullTextURLList != nil {
		for _, ft := range article.FullTextURLList.FullTextURLs {
			if ft.DocumentStyle == "pdf" && ft.URL != "" {
				return ft.URL
			}
		}
	}

	if doi == "" {
		return ""
	}
	switch strings.ToLower(article.PublisherName) {
	case "biorxiv":
		return "https://www.biorxiv.org/content/" + doi + ".full.pdf"
	case "medrxiv":
		return "https://www.medrxiv.org/content/" + doi + ".full.pdf"
	}
	return ""
}

// parseAuthorString splits the Europe PMC authorString field. The format
// is "Author A, Author B, Author C." with a trailing period.
func parseAuthorString(authorString string) []domain.Author {
	authorString = strings.TrimSpace(authorString)
	authorString = strings.TrimSuffix(authorString, ".")
	if authorString == "" {
		return nil
	}

	parts := strings.Split(authorString, ", ")
	authors := make([]domain.Author, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{Name: name})
	}
	return authors
}
