package europepmc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencehq/litsearch/internal/domain"
	"github.com/evidencehq/litsearch/internal/providers"
)

// newTestClient creates a client pointed at a test server.
func newTestClient(serverURL string, enabled bool) *Client {
	cfg := Config{
		BaseURL:    serverURL,
		Timeout:    5 * time.Second,
		RateLimit:  100,
		Burst:      100,
		MaxResults: 50,
		Enabled:    enabled,
	}

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

// sampleSearchResponse returns a fixture with one bioRxiv preprint carrying
// a direct PDF link and one medRxiv preprint without one.
func sampleSearchResponse() SearchResponse {
	return SearchResponse{
		HitCount:       2,
		NextCursorMark: "AoIIP4AAACc0MTM0",
		ResultList: ResultList{
			Result: []Article{
				{
					ID:                   "PPR123456",
					Source:               "PPR",
					DOI:                  "10.1101/2023.01.15.524123",
					Title:                "Single-cell atlas of the aging brain",
					AuthorString:         "Garcia M, Tanaka H, Okafor C.",
					JournalTitle:         "bioRxiv",
					PubYear:              "2023",
					AbstractText:         "We profile 400,000 cells across aged mouse brains.",
					IsOpenAccess:         "Y",
					CitedByCount:         12,
					FirstPublicationDate: "2023-01-17",
					PublisherName:        "bioRxiv",
					PubTypeList: &PubTypeList{
						PubTypes: []string{"Preprint"},
					},
					FullTextURLList: &FullTextURLList{
						FullTextURLs: []FullTextURL{
							{
								Availability:  "Open access",
								DocumentStyle: "html",
								Site:          "Unpaywall",
								URL:           "https://www.biorxiv.org/content/10.1101/2023.01.15.524123",
							},
							{
								Availability:  "Open access",
								DocumentStyle: "pdf",
								Site:          "Unpaywall",
								URL:           "https://www.biorxiv.org/content/biorxiv/early/2023/01/17/2023.01.15.524123.full.pdf",
							},
						},
					},
				},
				{
					ID:                   "PPR654321",
					Source:               "PPR",
					DOI:                  "10.1101/2022.11.02.22281822",
					Title:                "Vaccine effectiveness against hospitalization",
					AuthorString:         "Singh A.",
					JournalTitle:         "medRxiv",
					PubYear:              "2022",
					FirstPublicationDate: "2022-11-04",
					PublisherName:        "medRxiv",
					PubTypeList: &PubTypeList{
						PubTypes: []string{"Preprint"},
					},
				},
			},
		},
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client with default config", func(t *testing.T) {
		client := New(Config{Enabled: true})

		require.NotNil(t, client)
		assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
		assert.Equal(t, DefaultTimeout, client.config.Timeout)
		assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
		assert.Equal(t, DefaultBurst, client.config.Burst)
		assert.Equal(t, DefaultMaxResults, client.config.MaxResults)
	})

	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := Config{
			BaseURL:    "https://mirror.example.org/rest",
			Timeout:    10 * time.Second,
			RateLimit:  2.0,
			Burst:      2,
			MaxResults: 500,
			Enabled:    true,
		}
		client := New(cfg)

		require.NotNil(t, client)
		assert.Equal(t, "https://mirror.example.org/rest", client.config.BaseURL)
		assert.Equal(t, 10*time.Second, client.config.Timeout)
		assert.Equal(t, 2.0, client.config.RateLimit)
		assert.Equal(t, 500, client.config.MaxResults)
	})
}

func TestClient_SourceType(t *testing.T) {
	client := New(Config{Enabled: true})
	assert.Equal(t, domain.SourceTypeEuropePMC, client.SourceType())
}

func TestClient_Name(t *testing.T) {
	client := New(Config{Enabled: true})
	assert.Equal(t, "Europe PMC", client.Name())
}

func TestClient_IsEnabled(t *testing.T) {
	assert.True(t, New(Config{Enabled: true}).IsEnabled())
	assert.False(t, New(Config{Enabled: false}).IsEnabled())
}

func TestClient_Search(t *testing.T) {
	t.Run("successful search scoped to the preprint corpus", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/search", r.URL.Path)
			assert.Equal(t, "long covid AND (SRC:PPR)", r.URL.Query().Get("query"))
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			assert.Equal(t, "core", r.URL.Query().Get("resultType"))
			assert.Equal(t, "50", r.URL.Query().Get("pageSize"))
			assert.Equal(t, "*", r.URL.Query().Get("cursorMark"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sampleSearchResponse())
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		candidates, err := client.Search(context.Background(), providers.Query{Text: "long covid"})
		require.NoError(t, err)
		require.Len(t, candidates, 2)

		first := candidates[0]
		assert.Equal(t, "PPR123456", first.ID)
		assert.Equal(t, "Single-cell atlas of the aging brain", first.Title)
		assert.Equal(t, 2023, first.Year)
		assert.Equal(t, "10.1101/2023.01.15.524123", first.DOI)
		assert.Equal(t, "bioRxiv", first.Venue)
		assert.Equal(t, 12, first.CitationCount)
		assert.Equal(t, "We profile 400,000 cells across aged mouse brains.", first.Abstract)
		assert.Equal(t, "https://www.biorxiv.org/content/biorxiv/early/2023/01/17/2023.01.15.524123.full.pdf", first.PDFURL)
		assert.Equal(t, "https://doi.org/10.1101/2023.01.15.524123", first.LandingPageURL)
		assert.Equal(t, domain.SourceTypeEuropePMC, first.Source)
		assert.Equal(t, domain.PreprintStatusPreprint, first.PreprintStatus)
		assert.Equal(t, []string{"Preprint"}, first.PublicationTypes)
		assert.Equal(t, 0, first.RankSignal)

		require.Len(t, first.Authors, 3)
		assert.Equal(t, "Garcia M", first.Authors[0].Name)
		assert.Equal(t, "Tanaka H", first.Authors[1].Name)
		assert.Equal(t, "Okafor C", first.Authors[2].Name)

		second := candidates[1]
		assert.Equal(t, "PPR654321", second.ID)
		assert.Equal(t, 2022, second.Year)
		assert.Equal(t, "https://www.medrxiv.org/content/10.1101/2022.11.02.22281822.full.pdf", second.PDFURL)
		assert.Equal(t, 1, second.RankSignal)
	})

	t.Run("returns empty without calling the API when preprints are excluded", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			json.NewEncoder(w).Encode(sampleSearchResponse())
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		candidates, err := client.Search(context.Background(), providers.Query{
			Text:             "long covid",
			ExcludePreprints: true,
		})
		require.NoError(t, err)
		assert.NotNil(t, candidates)
		assert.Empty(t, candidates)
		assert.Equal(t, int32(0), requests.Load())
	})

	t.Run("year bounds become a FIRST_PDATE clause", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query().Get("query")
			assert.Equal(t, "long covid AND (SRC:PPR) AND (FIRST_PDATE:[2021-01-01 TO 2023-12-31])", query)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(SearchResponse{})
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		_, err := client.Search(context.Background(), providers.Query{
			Text:     "long covid",
			FromYear: 2021,
			ToYear:   2023,
		})
		require.NoError(t, err)
	})

	t.Run("caps pageSize at the API limit", func(t *testing.T) {
		var receivedPageSize string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedPageSize = r.URL.Query().Get("pageSize")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(SearchResponse{})
		}))
		defer server.Close()

		client := NewWithHTTPClient(Config{
			BaseURL:    server.URL,
			MaxResults: 5000,
			Enabled:    true,
		}, providers.NewHTTPClient(providers.HTTPClientConfig{RateLimit: 100, Burst: 100}))

		_, err := client.Search(context.Background(), providers.Query{Text: "x", MaxResults: 5000})
		require.NoError(t, err)
		assert.Equal(t, "1000", receivedPageSize)
	})

	t.Run("server error becomes provider error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("query syntax error"))
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		_, err := client.Search(context.Background(), providers.Query{Text: "long covid"})
		require.Error(t, err)

		var perr *domain.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Europe PMC", perr.Provider)
		assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	})

	t.Run("returns error on malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"resultList": {`))
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		_, err := client.Search(context.Background(), providers.Query{Text: "long covid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding")
	})
}

func TestArticleToCandidate(t *testing.T) {
	t.Run("falls back to DOI as id", func(t *testing.T) {
		article := Article{
			DOI:   "10.1101/2023.05.01.123456",
			Title: "No internal id",
		}

		cand, ok := articleToCandidate(&article, 0)
		require.True(t, ok)
		assert.Equal(t, "10.1101/2023.05.01.123456", cand.ID)
	})

	t.Run("skips record without any identifier", func(t *testing.T) {
		article := Article{Title: "Unidentifiable"}

		_, ok := articleToCandidate(&article, 0)
		assert.False(t, ok)
	})

	t.Run("pub year fallback when first publication date is absent", func(t *testing.T) {
		article := Article{
			ID:      "PPR111",
			PubYear: "2019",
		}

		cand, ok := articleToCandidate(&article, 0)
		require.True(t, ok)
		assert.Equal(t, 2019, cand.Year)
	})

	t.Run("no landing page without DOI", func(t *testing.T) {
		article := Article{ID: "PPR222"}

		cand, ok := articleToCandidate(&article, 0)
		require.True(t, ok)
		assert.Empty(t, cand.LandingPageURL)
	})
}

func TestPDFURL(t *testing.T) {
	t.Run("prefers pdf entry from full text list", func(t *testing.T) {
		article := Article{
			PublisherName: "bioRxiv",
			FullTextURLList: &FullTextURLList{
				FullTextURLs: []FullTextURL{
					{DocumentStyle: "html", URL: "https://example.org/html"},
					{DocumentStyle: "pdf", URL: "https://example.org/paper.pdf"},
				},
			},
		}

		assert.Equal(t, "https://example.org/paper.pdf", pdfURL(&article, "10.1101/x"))
	})

	t.Run("biorxiv content fallback", func(t *testing.T) {
		article := Article{PublisherName: "bioRxiv"}
		assert.Equal(t, "https://www.biorxiv.org/content/10.1101/x.full.pdf", pdfURL(&article, "10.1101/x"))
	})

	t.Run("medrxiv content fallback", func(t *testing.T) {
		article := Article{PublisherName: "medRxiv"}
		assert.Equal(t, "https://www.medrxiv.org/content/10.1101/y.full.pdf", pdfURL(&article, "10.1101/y"))
	})

	t.Run("unknown publisher yields nothing", func(t *testing.T) {
		article := Article{PublisherName: "Research Square"}
		assert.Empty(t, pdfURL(&article, "10.21203/z"))
	})

	t.Run("no doi yields nothing", func(t *testing.T) {
		article := Article{PublisherName: "bioRxiv"}
		assert.Empty(t, pdfURL(&article, ""))
	})
}

func TestParseAuthorString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"several authors with trailing period", "Garcia M, Tanaka H, Okafor C.", []string{"Garcia M", "Tanaka H", "Okafor C"}},
		{"single author", "Singh A.", []string{"Singh A"}},
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authors := parseAuthorString(tt.input)
			if tt.want == nil {
				assert.Nil(t, authors)
				return
			}
			require.Len(t, authors, len(tt.want))
			for i, name := range tt.want {
				assert.Equal(t, name, authors[i].Name)
			}
		})
	}
}

func TestConfig_applyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimit)
	assert.Equal(t, DefaultBurst, cfg.Burst)
	assert.Equal(t, DefaultMaxResults, cfg.MaxResults)
}
