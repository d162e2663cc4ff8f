package pubmed

import (
	"context"
	"encoding/xml"
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
	// DefaultBaseURL is the base URL for the NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key. NCBI allows
	// 3 requests per second anonymously and 10 with a key.
	DefaultRateLimit = 3.0

	// DefaultBurst is the rate limiter burst size.
	DefaultBurst = 3

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the page size when the query does not set one.
	DefaultMaxResults = 100

	// MaxResultsLimit is the largest retmax the API accepts.
	MaxResultsLimit = 10000

	// retractedPublicationType flags retracted articles in the
	// PublicationTypeList.
	retractedPublicationType = "Retracted Publication"

	// preprintPublicationType flags preprint records.
	preprintPublicationType = "Preprint"

	sourceName = "PubMed"
)

// Config holds configuration for the PubMed client.
type Config struct {
	// BaseURL overrides the E-utilities base URL.
	BaseURL string

	// APIKey is the NCBI API key. Optional; raises the rate limit to
	// 10 requests per second.
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

// Client queries PubMed and converts E-utilities records to raw candidates.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.Provider = (*Client)(nil)

// New creates a PubMed client with its own rate-limited HTTP client.
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

// Search runs the two-step esearch/efetch flow and returns candidates in
// PubMed relevance order. A query phrase PubMed does not index yields an
// empty result, not an error.
func (c *Client) Search(ctx context.Context, q providers.Query) ([]domain.RawCandidate, error) {
	searchResult, err := c.esearch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}

	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 {
		return []domain.RawCandidate{}, nil
	}
	if len(searchResult.IDList.IDs) == 0 {
		return []domain.RawCandidate{}, nil
	}

	articleSet, err := c.efetch(ctx, searchResult.IDList.IDs)
	if err != nil {
		return nil, fmt.Errorf("efetch: %w", err)
	}

	candidates := make([]domain.RawCandidate, 0, len(articleSet.Articles))
	for i := range articleSet.Articles {
		if cand, ok := articleToCandidate(&articleSet.Articles[i], len(candidates)); ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

// SourceType returns the stable provider identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable provider name.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the provider participates in searches.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// esearch returns the PMIDs matching the query.
func (c *Client) esearch(ctx context.Context, q providers.Query) (*ESearchResult, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	values := u.Query()
	values.Set("db", "pubmed")
	values.Set("term", q.Text)
	values.Set("retmode", "xml")
	values.Set("usehistory", "n")

	maxResults := q.MaxResults
	if maxResults <= 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}
	values.Set("retmax", strconv.Itoa(maxResults))

	if q.FromYear > 0 || q.ToYear > 0 {
		values.Set("datetype", "pdat")
		if q.FromYear > 0 {
			values.Set("mindate", fmt.Sprintf("%04d/01/01", q.FromYear))
		}
		if q.ToYear > 0 {
			values.Set("maxdate", fmt.Sprintf("%04d/12/31", q.ToYear))
		}
	}

	if c.config.APIKey != "" {
		values.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = values.Encode()

	var result ESearchResult
	if err := c.getXML(ctx, u.String(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// efetch returns full article metadata for the given PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	values := u.Query()
	values.Set("db", "pubmed")
	values.Set("id", strings.Join(pmids, ","))
	values.Set("retmode", "xml")
	values.Set("rettype", "abstract")
	if c.config.APIKey != "" {
		values.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = values.Encode()

	var result PubmedArticleSet
	if err := c.getXML(ctx, u.String(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// getXML performs a GET and decodes the XML body into out.
func (c *Client) getXML(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pubmed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return domain.NewProviderError(sourceName, resp.StatusCode, string(body), nil)
	}

	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out); err != nil {
		return fmt.Errorf("decoding pubmed response: %w", err)
	}
	return nil
}

// articleToCandidate converts one efetch article. Articles without a PMID
// are skipped.
func articleToCandidate(article *PubmedArticle, rank int) (domain.RawCandidate, bool) {
	citation := article.MedlineCitation
	pmid := strings.TrimSpace(citation.PMID.Value)
	if pmid == "" {
		return domain.RawCandidate{}, false
	}

	venue := citation.Article.Journal.Title
	if venue == "" {
		venue = citation.Article.Journal.ISOAbbreviation
	}

	pubTypes := publicationTypes(citation.Article.PublicationTypeList)
	preprintStatus := domain.PreprintStatusPeerReviewed
	if containsType(pubTypes, preprintPublicationType) {
		preprintStatus = domain.PreprintStatusPreprint
	}

	return domain.RawCandidate{
		ID:               pmid,
		Title:            strings.TrimSpace(citation.Article.ArticleTitle),
		Year:             extractYear(citation.Article),
		Abstract:         extractAbstract(citation.Article.Abstract),
		Authors:          extractAuthors(citation.Article.AuthorList),
		Venue:            venue,
		DOI:              canon.NormalizeDOI(extractDOI(citation.Article, article.PubmedData)),
		PubmedID:         pmid,
		Source:           domain.SourceTypePubMed,
		LandingPageURL:   "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/",
		IsRetracted:      containsType(pubTypes, retractedPublicationType),
		PreprintStatus:   preprintStatus,
		PublicationTypes: pubTypes,
		RankSignal:       rank,
	}, true
}

// publicationTypes flattens the PublicationTypeList values.
func publicationTypes(list *PublicationTypeList) []string {
	if list == nil || len(list.PublicationTypes) == 0 {
		return nil
	}
	types := make([]string, 0, len(list.PublicationTypes))
	for _, pt := range list.PublicationTypes {
		if v := strings.TrimSpace(pt.Value); v != "" {
			types = append(types, v)
		}
	}
	return types
}

func containsType(types []string, want string) bool {
	for _, t := range types {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// extractDOI pulls the DOI from article metadata, checking ELocationID
// first (more reliable) and falling back to the ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return eloc.Value
		}
	}
	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return aid.Value
		}
	}
	return ""
}

// extractYear resolves the publication year. ArticleDate (electronic
// publication) wins, then the journal issue PubDate, then the free-form
// MedlineDate used by older records.
func extractYear(article Article) int {
	for _, ad := range article.ArticleDate {
		if ad.DateType == "epublish" || ad.DateType == "Electronic" || ad.DateType == "" {
			if year, err := strconv.Atoi(ad.Year); err == nil && year > 0 {
				return year
			}
		}
	}

	pubDate := article.Journal.JournalIssue.PubDate
	if pubDate.Year != "" {
		if year, err := strconv.Atoi(pubDate.Year); err == nil && year > 0 {
			return year
		}
	}
	if pubDate.MedlineDate != "" {
		return yearFromMedlineDate(pubDate.MedlineDate)
	}
	return 0
}

// yearFromMedlineDate extracts the leading year from strings such as
// "2020 Jan-Feb", "2020 Spring", or "2020-2021".
func yearFromMedlineDate(medlineDate string) int {
	parts := strings.Fields(medlineDate)
	if len(parts) == 0 {
		return 0
	}
	yearStr := strings.Split(parts[0], "-")[0]
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return 0
	}
	return year
}

// extractAbstract concatenates the abstract sections into a single string,
// prefixing labeled sections with their label.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// extractAuthors converts PubMed authors, skipping entries flagged invalid.
func extractAuthors(authorList *AuthorList) []domain.Author {
	if authorList == nil || len(authorList.Authors) == 0 {
		return nil
	}

	authors := make([]domain.Author, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		var name string
		if a.CollectiveName != "" {
			name = a.CollectiveName
		} else {
			nameParts := make([]string, 0, 2)
			if a.ForeName != "" {
				nameParts = append(nameParts, a.ForeName)
			}
			if a.LastName != "" {
				nameParts = append(nameParts, a.LastName)
			}
			name = strings.Join(nameParts, " ")
		}
		if name == "" {
			continue
		}

		var orcid string
		for _, id := range a.Identifiers {
			if strings.EqualFold(id.Source, "ORCID") {
				orcid = id.Value
				break
			}
		}

		var affiliation string
		if len(a.AffiliationInfo) > 0 {
			affiliation = a.AffiliationInfo[0].Affiliation
		}

		authors = append(authors, domain.Author{
			Name:        name,
			Affiliation: affiliation,
			ORCID:       orcid,
		})
	}
	return authors
}
