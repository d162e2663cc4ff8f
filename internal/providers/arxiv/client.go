package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/providers"
)

const (
	// DefaultBaseURL is the arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit is requests per second; arXiv asks for at most 3.
	DefaultRateLimit = 3.0

	// DefaultBurst is the rate limiter burst size.
	DefaultBurst = 3

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the page size when the query does not set one.
	DefaultMaxResults = 100

	sourceName = "arXiv"
)

// arxivIDPattern extracts the bare ID from an entry URL, dropping the
// version suffix: "http://arxiv.org/abs/2301.12345v2" yields "2301.12345".
var arxivIDPattern = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv client.
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

// Client queries arXiv and converts Atom entries to raw candidates.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.Provider = (*Client)(nil)

// New creates an arXiv client with its own rate-limited HTTP client.
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

// Search queries the query endpoint and returns candidates in API order,
// newest submissions first. Queries that exclude preprints return nothing
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
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewProviderError(sourceName, resp.StatusCode, string(body), nil)
	}

	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding arxiv feed: %w", err)
	}

	candidates := make([]domain.RawCandidate, 0, len(feed.Entries))
	for i := range feed.Entries {
		if cand, ok := entryToCandidate(&feed.Entries[i], len(candidates)); ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

// SourceType returns the stable provider identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeArXiv
}

// Name returns the human-readable provider name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the provider participates in searches.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL assembles the query endpoint URL. Year bounds become a
// submittedDate range clause ANDed onto the text query.
func (c *Client) buildSearchURL(q providers.Query) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	searchQuery := "all:" + q.Text
	if clause := dateClause(q.FromYear, q.ToYear); clause != "" {
		searchQuery += " AND " + clause
	}

	values := url.Values{}
	values.Set("search_query", searchQuery)

	maxResults := q.MaxResults
	if maxResults <= 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}
	values.Set("max_results", strconv.Itoa(maxResults))
	values.Set("sortBy", "submittedDate")
	values.Set("sortOrder", "descending")

	baseURL.RawQuery = values.Encode()
	return baseURL.String(), nil
}

// dateClause builds the submittedDate range filter, * for open ends.
func dateClause(fromYear, toYear int) string {
	if fromYear == 0 && toYear == 0 {
		return ""
	}

	from := "*"
	if fromYear > 0 {
		from = fmt.Sprintf("%04d01010000", fromYear)
	}
	to := "*"
	if toYear > 0 {
		to = fmt.Sprintf("%04d12312359", toYear)
	}
	return fmt.Sprintf("submittedDate:[%s TO %s]", from, to)
}

// entryToCandidate converts one Atom entry. Entries whose ID cannot be
// extracted are skipped.
func entryToCandidate(entry *Entry, rank int) (domain.RawCandidate, bool) {
	arxivID := extractArxivID(entry.ID)
	if arxivID == "" {
		return domain.RawCandidate{}, false
	}

	var year int
	if entry.Published != "" {
		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			year = t.Year()
		}
	}

	authors := make([]domain.Author, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{
			Name:        name,
			Affiliation: strings.TrimSpace(a.Affiliation),
		})
	}

	pdfURL := ""
	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			pdfURL = link.Href
			break
		}
	}
	if pdfURL == "" {
		pdfURL = "https://arxiv.org/pdf/" + arxivID
	}

	venue := strings.TrimSpace(entry.JournalRef)
	if venue == "" {
		venue = "arXiv"
	}

	return domain.RawCandidate{
		ID:             arxivID,
		Title:          collapseWhitespace(entry.Title),
		Year:           year,
		Abstract:       collapseWhitespace(entry.Summary),
		Authors:        authors,
		Venue:          venue,
		DOI:            canon.NormalizeDOI(entry.DOI),
		Source:         domain.SourceTypeArXiv,
		PDFURL:         pdfURL,
		LandingPageURL: "https://arxiv.org/abs/" + arxivID,
		PreprintStatus: domain.PreprintStatusPreprint,
		RankSignal:     rank,
	}, true
}

// extractArxivID pulls the bare ID out of the entry URL.
func extractArxivID(entryURL string) string {
	matches := arxivIDPattern.FindStringSubmatch(entryURL)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// collapseWhitespace trims and folds runs of whitespace into single spaces.
// arXiv titles and summaries arrive with hard-wrapped newlines.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
