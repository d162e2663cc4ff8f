package semanticscholar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
		MaxResults: 20,
		Enabled:    enabled,
	}

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

// sampleSearchResponse returns a fixture with one journal paper and one
// arXiv preprint.
func sampleSearchResponse() SearchResponse {
	return SearchResponse{
		Total:  2,
		Offset: 0,
		Data: []PaperResult{
			{
				PaperID:         "649def34f8be52c8b66281af98ae884c09aef38b",
				Title:           "Attention Is All You Need in Clinical Trials",
				Abstract:        "We evaluate attention mechanisms in a randomized controlled trial.",
				Year:            2021,
				PublicationDate: "2021-03-15",
				Venue:           "NeurIPS",
				Journal: &Journal{
					Name:   "Journal of Machine Learning Research",
					Volume: "22",
					Pages:  "1-30",
				},
				Authors: []Author{
					{AuthorID: "1741101", Name: "Ashley Vaswani"},
					{AuthorID: "1741102", Name: "Noam Chen"},
				},
				CitationCount:  4200,
				ReferenceCount: 45,
				IsOpenAccess:   true,
				OpenAccessPDF: &OpenAccessPDF{
					URL:    "https://www.jmlr.org/papers/v22/attention.pdf",
					Status: "GOLD",
				},
				PublicationTypes: []string{"JournalArticle", "Study"},
				ExternalIDs: &ExternalIDs{
					DOI:    "10.5555/3295222.3295349",
					PubMed: "33755728",
				},
			},
			{
				PaperID:  "204e3073870fae3d05bcbc2f6a8e263d9b72e776",
				Title:    "Scaling Laws for Neural Language Models",
				Abstract: "We study empirical scaling laws for language model performance.",
				Year:     2020,
				Venue:    "arXiv.org",
				Authors: []Author{
					{AuthorID: "2064344", Name: "Jared Kaplan"},
				},
				CitationCount: 1800,
				ExternalIDs: &ExternalIDs{
					ArXiv: "2001.08361",
					DOI:   "10.48550/arxiv.2001.08361",
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
			BaseURL:    "https://custom.api.org/graph/v1",
			APIKey:     "secret-key",
			Timeout:    15 * time.Second,
			RateLimit:  1.0,
			Burst:      1,
			MaxResults: 50,
			Enabled:    true,
		}
		client := New(cfg)

		require.NotNil(t, client)
		assert.Equal(t, "https://custom.api.org/graph/v1", client.config.BaseURL)
		assert.Equal(t, "secret-key", client.config.APIKey)
		assert.Equal(t, 15*time.Second, client.config.Timeout)
		assert.Equal(t, 1.0, client.config.RateLimit)
		assert.Equal(t, 50, client.config.MaxResults)
	})
}

func TestClient_SourceType(t *testing.T) {
	client := New(Config{Enabled: true})
	assert.Equal(t, domain.SourceTypeSemanticScholar, client.SourceType())
}

func TestClient_Name(t *testing.T) {
	client := New(Config{Enabled: true})
	assert.Equal(t, "Semantic Scholar", client.Name())
}

func TestClient_IsEnabled(t *testing.T) {
	assert.True(t, New(Config{Enabled: true}).IsEnabled())
	assert.False(t, New(Config{Enabled: false}).IsEnabled())
}

func TestClient_Search(t *testing.T) {
	t.Run("successful search", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/paper/search", r.URL.Path)
			assert.Equal(t, "scaling laws", r.URL.Query().Get("query"))
			assert.Equal(t, paperFields, r.URL.Query().Get("fields"))
			assert.Equal(t, "20", r.URL.Query().Get("limit"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sampleSearchResponse())
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		candidates, err := client.Search(context.Background(), providers.Query{Text: "scaling laws"})
		require.NoError(t, err)
		require.Len(t, candidates, 2)

		first := candidates[0]
		assert.Equal(t, "649def34f8be52c8b66281af98ae884c09aef38b", first.ID)
		assert.Equal(t, "Attention Is All You Need in Clinical Trials", first.Title)
		assert.Equal(t, 2021, first.Year)
		assert.Equal(t, "10.5555/3295222.3295349", first.DOI)
		assert.Equal(t, "33755728", first.PubmedID)
		assert.Equal(t, "Journal of Machine Learning Research", first.Venue)
		assert.Equal(t, 4200, first.CitationCount)
		assert.Equal(t, "https://www.jmlr.org/papers/v22/attention.pdf", first.PDFURL)
		assert.Equal(t, "https://doi.org/10.5555/3295222.3295349", first.LandingPageURL)
		assert.Equal(t, domain.SourceTypeSemanticScholar, first.Source)
		assert.Equal(t, domain.PreprintStatusPeerReviewed, first.PreprintStatus)
		assert.Equal(t, []string{"JournalArticle", "Study"}, first.PublicationTypes)
		assert.Equal(t, 0, first.RankSignal)
		require.Len(t, first.Authors, 2)
		assert.Equal(t, "Ashley Vaswani", first.Authors[0].Name)

		second := candidates[1]
		assert.Equal(t, domain.PreprintStatusPreprint, second.PreprintStatus)
		assert.Equal(t, 1, second.RankSignal)
	})

	t.Run("sends API key header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(SearchResponse{})
		}))
		defer server.Close()

		client := New(Config{
			BaseURL:   server.URL,
			APIKey:    "test-api-key",
			RateLimit: 100,
			Burst:     100,
			Enabled:   true,
		})

		_, err := client.Search(context.Background(), providers.Query{Text: "CRISPR"})
		require.NoError(t, err)
	})

	t.Run("skips preprints when the query excludes them", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sampleSearchResponse())
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		candidates, err := client.Search(context.Background(), providers.Query{
			Text:             "scaling laws",
			ExcludePreprints: true,
		})
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "649def34f8be52c8b66281af98ae884c09aef38b", candidates[0].ID)
	})

	t.Run("skipped preprints do not consume rank positions", func(t *testing.T) {
		resp := sampleSearchResponse()
		resp.Data = append(resp.Data, PaperResult{
			PaperID: "aaa111",
			Title:   "Third Paper",
			Journal: &Journal{Name: "The Lancet"},
		})

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		candidates, err := client.Search(context.Background(), providers.Query{
			Text:             "scaling laws",
			ExcludePreprints: true,
		})
		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, 0, candidates[0].RankSignal)
		assert.Equal(t, 1, candidates[1].RankSignal)
	})

	t.Run("skips records without a paper id", func(t *testing.T) {
		resp := SearchResponse{
			Total: 1,
			Data:  []PaperResult{{Title: "Orphan Record", Year: 2020}},
		}

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		candidates, err := client.Search(context.Background(), providers.Query{Text: "orphan"})
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("decodes error envelope on bad request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "Unrecognized or unsupported fields: [bogus]"}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		_, err := client.Search(context.Background(), providers.Query{Text: "CRISPR"})
		require.Error(t, err)

		var perr *domain.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
		assert.Equal(t, "Unrecognized or unsupported fields: [bogus]", perr.Message)
		assert.False(t, perr.IsTransient())
	})

	t.Run("falls back to message field in error envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message": "Forbidden"}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		_, err := client.Search(context.Background(), providers.Query{Text: "CRISPR"})
		require.Error(t, err)

		var perr *domain.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Forbidden", perr.Message)
	})

	t.Run("returns error on malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"total": 1, "data": [`))
		}))
		defer server.Close()

		client := newTestClient(server.URL, true)

		candidates, err := client.Search(context.Background(), providers.Query{Text: "CRISPR"})
		require.Error(t, err)
		assert.Nil(t, candidates)
		assert.Contains(t, err.Error(), "decoding")
	})
}

func TestClient_Search_YearBounds(t *testing.T) {
	tests := []struct {
		name     string
		fromYear int
		toYear   int
		want     string
	}{
		{"both bounds", 2019, 2023, "2019-2023"},
		{"from only", 2019, 0, "2019-"},
		{"to only", 0, 2023, "-2023"},
		{"no bounds", 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedYear string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				receivedYear = r.URL.Query().Get("year")
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(SearchResponse{})
			}))
			defer server.Close()

			client := newTestClient(server.URL, true)

			_, err := client.Search(context.Background(), providers.Query{
				Text:     "CRISPR",
				FromYear: tt.fromYear,
				ToYear:   tt.toYear,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, receivedYear)
		})
	}
}

func TestClient_Search_LimitCap(t *testing.T) {
	var receivedLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResponse{})
	}))
	defer server.Close()

	client := NewWithHTTPClient(Config{
		BaseURL:    server.URL,
		MaxResults: 500,
		Enabled:    true,
	}, providers.NewHTTPClient(providers.HTTPClientConfig{RateLimit: 100, Burst: 100}))

	_, err := client.Search(context.Background(), providers.Query{Text: "CRISPR", MaxResults: 500})
	require.NoError(t, err)
	assert.Equal(t, "100", receivedLimit)
}

func TestIsPreprint(t *testing.T) {
	tests := []struct {
		name  string
		paper PaperResult
		want  bool
	}{
		{
			name:  "arXiv venue",
			paper: PaperResult{Venue: "arXiv.org"},
			want:  true,
		},
		{
			name:  "arXiv id without journal",
			paper: PaperResult{ExternalIDs: &ExternalIDs{ArXiv: "2001.08361"}},
			want:  true,
		},
		{
			name: "arXiv id later published in a journal",
			paper: PaperResult{
				ExternalIDs: &ExternalIDs{ArXiv: "2001.08361"},
				Journal:     &Journal{Name: "Nature"},
			},
			want: false,
		},
		{
			name:  "journal paper",
			paper: PaperResult{Venue: "Nature", Journal: &Journal{Name: "Nature"}},
			want:  false,
		},
		{
			name:  "no signals at all",
			paper: PaperResult{},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPreprint(&tt.paper))
		})
	}
}

func TestPaperToCandidate(t *testing.T) {
	t.Run("venue falls back to venue field without journal", func(t *testing.T) {
		paper := PaperResult{
			PaperID: "abc123",
			Venue:   "NeurIPS",
			Journal: &Journal{Name: "Nature"},
		}

		cand, ok := paperToCandidate(&paper, 0, false)
		require.True(t, ok)
		assert.Equal(t, "Nature", cand.Venue)

		paper.Journal = nil
		cand, ok = paperToCandidate(&paper, 0, false)
		require.True(t, ok)
		assert.Equal(t, "NeurIPS", cand.Venue)
	})

	t.Run("no landing page without DOI", func(t *testing.T) {
		paper := PaperResult{PaperID: "abc123"}

		cand, ok := paperToCandidate(&paper, 0, false)
		require.True(t, ok)
		assert.Empty(t, cand.LandingPageURL)
		assert.Empty(t, cand.DOI)
	})

	t.Run("drops authors with empty names", func(t *testing.T) {
		paper := PaperResult{
			PaperID: "abc123",
			Authors: []Author{
				{AuthorID: "1", Name: "Jane Doe"},
				{AuthorID: "2", Name: ""},
			},
		}

		cand, ok := paperToCandidate(&paper, 0, false)
		require.True(t, ok)
		require.Len(t, cand.Authors, 1)
		assert.Equal(t, "Jane Doe", cand.Authors[0].Name)
	})
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
