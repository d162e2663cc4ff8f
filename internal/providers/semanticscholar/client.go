package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/providers"
)

const (
	// DefaultBaseURL is the Graph API base URL.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is requests per second; API keys unlock higher rates.
	DefaultRateLimit = 10.0

	// DefaultBurst is the rate limiter burst size.
	DefaultBurst = 10

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the page size; the search endpoint caps limit at 100.
	DefaultMaxResults = 100

	// maxLimit is the hard limit ceiling of the paper search endpoint.
	maxLimit = 100

	// apiKeyHeader carries the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// paperFields is everything requested per paper. publicationTypes feeds
	// the quality filter; externalIds feed canonicalization.
	paperFields = "paperId,externalIds,title,abstract,year,publicationDate,venue,journal,authors,citationCount,referenceCount,isOpenAccess,openAccessPdf,publicationTypes"

	sourceName = "Semantic Scholar"
)

// Config holds configuration for the Semantic Scholar client.
type Config struct {
	// BaseURL overrides the API base URL.
	BaseURL string

	// APIKey authenticates requests for higher rate limits. Optional.
	APIKey string

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

// Client queries Semantic Scholar and converts papers to raw candidates.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.Provider = (*Client)(nil)

// New creates a Semantic Scholar client with its own rate-limited HTTP client.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: providers.NewHTTPClient(providers.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			Burst:        cfg.Burst,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
		}),
	}
}

// NewWithHTTPClient creates a client around an existing HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries the paper search endpoint and returns candidates in API order.
func (c *Client) Search(ctx context.Context, q providers.Query) ([]domain.RawCandidate, error) {
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
		return nil, fmt.Errorf("semantic scholar request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding semantic scholar response: %w", err)
	}

	candidates := make([]domain.RawCandidate, 0, len(searchResp.Data))
	for i := range searchResp.Data {
		if cand, ok := paperToCandidate(&searchResp.Data[i], len(candidates), q.ExcludePreprints); ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

// SourceType returns the stable provider identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeSemanticScholar
}

// Name returns the human-readable provider name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the provider participates in searches.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL assembles the search URL. Year bounds push down through the
// year parameter ("2019-2023", "2019-", "-2023").
func (c *Client) buildSearchURL(q providers.Query) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	searchURL := baseURL.JoinPath("paper", "search")

	values := searchURL.Query()
	values.Set("query", q.Text)
	values.Set("fields", paperFields)

	limit := q.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	values.Set("limit", strconv.Itoa(limit))

	switch {
	case q.FromYear > 0 && q.ToYear > 0:
		values.Set("year", fmt.Sprintf("%d-%d", q.FromYear, q.ToYear))
	case q.FromYear > 0:
		values.Set("year", fmt.Sprintf("%d-", q.FromYear))
	case q.ToYear > 0:
		values.Set("year", fmt.Sprintf("-%d", q.ToYear))
	}

	searchURL.RawQuery = values.Encode()
	return searchURL.String(), nil
}

// checkResponse maps non-2xx responses to provider errors, decoding the
// API's error envelope when it parses.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewProviderError(sourceName, resp.StatusCode, "reading error response", err)
	}

	message := string(body)
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error != "" {
			message = errResp.Error
		} else if errResp.Message != "" {
			message = errResp.Message
		}
	}
	return domain.NewProviderError(sourceName, resp.StatusCode, message, nil)
}

// paperToCandidate converts one paper. Records without a paperId are
// skipped; preprint records are skipped when the query excludes them.
func paperToCandidate(p *PaperResult, rank int, excludePreprints bool) (domain.RawCandidate, bool) {
	if p.PaperID == "" {
		return domain.RawCandidate{}, false
	}

	preprintStatus := domain.PreprintStatusPeerReviewed
	if isPreprint(p) {
		preprintStatus = domain.PreprintStatusPreprint
	}
	if excludePreprints && preprintStatus == domain.PreprintStatusPreprint {
		return domain.RawCandidate{}, false
	}

	var doi, pubmedID string
	if p.ExternalIDs != nil {
		doi = canon.NormalizeDOI(p.ExternalIDs.DOI)
		pubmedID = p.ExternalIDs.PubMed
	}

	venue := p.Venue
	if p.Journal != nil && p.Journal.Name != "" {
		venue = p.Journal.Name
	}

	var pdfURL string
	if p.OpenAccessPDF != nil {
		pdfURL = p.OpenAccessPDF.URL
	}

	authors := make([]domain.Author, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			authors = append(authors, domain.Author{Name: a.Name})
		}
	}

	return domain.RawCandidate{
		ID:               p.PaperID,
		Title:            p.Title,
		Year:             p.Year,
		Abstract:         p.Abstract,
		Authors:          authors,
		Venue:            venue,
		DOI:              doi,
		PubmedID:         pubmedID,
		Source:           domain.SourceTypeSemanticScholar,
		CitationCount:    p.CitationCount,
		PDFURL:           pdfURL,
		LandingPageURL:   landingPageURL(doi),
		PreprintStatus:   preprintStatus,
		PublicationTypes: p.PublicationTypes,
		RankSignal:       rank,
	}, true
}

// isPreprint detects preprint records. Semantic Scholar has no explicit
// flag; arXiv-indexed papers without a journal are the observable signal.
func isPreprint(p *PaperResult) bool {
	if p.Venue == "arXiv.org" {
		return true
	}
	return p.ExternalIDs != nil && p.ExternalIDs.ArXiv != "" && p.Journal == nil
}

func landingPageURL(doi string) string {
	if doi == "" {
		return ""
	}
	return "https://doi.org/" + doi
}
