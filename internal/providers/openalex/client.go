package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/evidencehq/litsearch/internal/canon"
	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/providers"
)

const (
	// DefaultBaseURL is the OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is requests per second. The polite pool (requests
	// carrying a mailto) tolerates 10/s comfortably.
	DefaultRateLimit = 10.0

	// DefaultBurst is the rate limiter burst size.
	DefaultBurst = 10

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the page size; the API caps per_page at 200.
	DefaultMaxResults = 200

	// maxPerPage is the hard per_page ceiling of the works endpoint.
	maxPerPage = 200

	// openAlexIDPrefix is the URL prefix on OpenAlex identifiers.
	openAlexIDPrefix = "https://openalex.org/"

	// pmidPrefix is the URL prefix OpenAlex puts on PubMed identifiers.
	pmidPrefix = "https://pubmed.ncbi.nlm.nih.gov/"

	sourceName = "OpenAlex"
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL overrides the API base URL.
	BaseURL string

	// Email joins the polite pool when set; sent as the mailto parameter.
	Email string

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

// Client queries OpenAlex and converts works to raw candidates.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.Provider = (*Client)(nil)

// New creates an OpenAlex client with its own rate-limited HTTP client.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	userAgent := "litsearch/1.0"
	if cfg.Email != "" {
		userAgent = fmt.Sprintf("litsearch/1.0 (mailto:%s)", cfg.Email)
	}

	return &Client{
		config: cfg,
		httpClient: providers.NewHTTPClient(providers.HTTPClientConfig{
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
			UserAgent: userAgent,
		}),
	}
}

// NewWithHTTPClient creates a client around an existing HTTP client.
// Used by tests to control retry and rate limit behavior.
func NewWithHTTPClient(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries the works endpoint and returns candidates in API order.
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
		return nil, fmt.Errorf("openalex request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewProviderError(sourceName, resp.StatusCode, string(body), nil)
	}

	// Body capped at 10MB; a full 200-work page with abstracts stays well under.
	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding openalex response: %w", err)
	}

	candidates := make([]domain.RawCandidate, 0, len(searchResp.Results))
	for i := range searchResp.Results {
		if cand, ok := c.workToCandidate(&searchResp.Results[i], len(candidates)); ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

// SourceType returns the stable provider identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeOpenAlex
}

// Name returns the human-readable provider name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the provider participates in searches.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL assembles the works search URL with filter pushdown for
// year bounds and preprint exclusion.
func (c *Client) buildSearchURL(q providers.Query) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	values := url.Values{}
	if q.Text != "" {
		values.Set("search", q.Text)
	}

	var filters []string
	if q.FromYear > 0 {
		filters = append(filters, fmt.Sprintf("from_publication_date:%04d-01-01", q.FromYear))
	}
	if q.ToYear > 0 {
		filters = append(filters, fmt.Sprintf("to_publication_date:%04d-12-31", q.ToYear))
	}
	if q.ExcludePreprints {
		filters = append(filters, "type:!preprint")
	}
	if len(filters) > 0 {
		values.Set("filter", strings.Join(filters, ","))
	}

	perPage := q.MaxResults
	if perPage <= 0 || perPage > c.config.MaxResults {
		perPage = c.config.MaxResults
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	values.Set("per_page", strconv.Itoa(perPage))

	if c.config.Email != "" {
		values.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = values.Encode()
	return baseURL.String(), nil
}

// workToCandidate converts one work. Works without any usable identifier are
// skipped; they cannot be deduplicated or cited downstream.
func (c *Client) workToCandidate(work *Work, rank int) (domain.RawCandidate, bool) {
	doi := canon.NormalizeDOI(work.DOI)
	if doi == "" {
		doi = canon.NormalizeDOI(work.IDs.DOI)
	}

	openAlexID := trimIDPrefix(work.ID)
	if openAlexID == "" {
		openAlexID = trimIDPrefix(work.IDs.OpenAlex)
	}

	id := openAlexID
	if id == "" {
		id = doi
	}
	if id == "" {
		return domain.RawCandidate{}, false
	}

	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	authors := make([]domain.Author, 0, len(work.Authorships))
	for _, authorship := range work.Authorships {
		author := domain.Author{
			Name:  authorship.Author.DisplayName,
			ORCID: strings.TrimSpace(strings.TrimPrefix(authorship.Author.Orcid, "https://orcid.org/")),
		}
		if len(authorship.Institutions) > 0 {
			author.Affiliation = authorship.Institutions[0].DisplayName
		}
		authors = append(authors, author)
	}

	var venue, landingURL, pdfURL string
	if work.PrimaryLocation != nil {
		if work.PrimaryLocation.Source != nil {
			venue = work.PrimaryLocation.Source.DisplayName
		}
		landingURL = work.PrimaryLocation.LandingPageURL
		pdfURL = work.PrimaryLocation.PDFURL
	}
	if work.OpenAccess != nil && work.OpenAccess.OAURL != "" {
		pdfURL = work.OpenAccess.OAURL
	}

	preprintStatus := domain.PreprintStatusPeerReviewed
	if work.Type == "preprint" {
		preprintStatus = domain.PreprintStatusPreprint
	}

	var pubTypes []string
	if work.Type != "" {
		pubTypes = []string{work.Type}
	}

	var referenced []string
	if len(work.ReferencedWorks) > 0 {
		referenced = make([]string, 0, len(work.ReferencedWorks))
		for _, ref := range work.ReferencedWorks {
			if short := trimIDPrefix(ref); short != "" {
				referenced = append(referenced, short)
			}
		}
	}

	return domain.RawCandidate{
		ID:               id,
		Title:            title,
		Year:             work.PublicationYear,
		Abstract:         reconstructAbstract(work.AbstractInvertedIndex),
		Authors:          authors,
		Venue:            venue,
		DOI:              doi,
		PubmedID:         strings.TrimSpace(strings.TrimPrefix(work.IDs.PMID, pmidPrefix)),
		OpenAlexID:       openAlexID,
		Source:           domain.SourceTypeOpenAlex,
		CitationCount:    work.CitedByCount,
		PDFURL:           pdfURL,
		LandingPageURL:   landingURL,
		IsRetracted:      work.IsRetracted,
		PreprintStatus:   preprintStatus,
		PublicationTypes: pubTypes,
		ReferencedIDs:    referenced,
		RankSignal:       rank,
	}, true
}

// trimIDPrefix strips the https://openalex.org/ prefix from an identifier.
func trimIDPrefix(id string) string {
	return strings.TrimSpace(strings.TrimPrefix(id, openAlexIDPrefix))
}

// reconstructAbstract rebuilds abstract text from OpenAlex's inverted index,
// which maps each word to the positions it occupies.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}

	// Oversized indices are dropped rather than reconstructed; real
	// abstracts stay far below this.
	const maxAbstractWords = 100_000
	total := 0
	for _, positions := range invertedIndex {
		total += len(positions)
	}
	if total > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, total)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })

	var b strings.Builder
	b.Grow(total * 7)
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(pair.word)
	}
	return b.String()
}
