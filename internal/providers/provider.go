// Package providers defines the bibliographic provider abstraction and the
// shared plumbing every adapter builds on: a rate-limited retrying HTTP
// client, a thread-safe provider registry, and the fan-out orchestrator that
// queries all configured providers concurrently.
//
// Each provider adapter lives in its own subpackage (openalex,
// semanticscholar, arxiv, pubmed, europepmc) and converts the provider's
// native wire format into domain.RawCandidate records.
//
// Example usage:
//
//	registry := providers.NewRegistry()
//	registry.Register(openalex.New(openalex.Config{Enabled: true}))
//	registry.Register(pubmed.New(pubmed.Config{Enabled: true}))
//
//	orch := providers.NewOrchestrator(registry, providers.OrchestratorConfig{}, logger, metrics)
//	byProvider, coverage := orch.Search(ctx, providers.Query{Text: "semaglutide weight loss"})
package providers

import (
	"context"

	"github.com/evidencehq/litsearch/internal/domain"
)

// Query is the normalized search request handed to every provider adapter.
// Adapters push filters down to the provider API where it supports them;
// the quality filter re-checks everything downstream regardless.
type Query struct {
	// Text is the trimmed natural-language query string.
	Text string

	// FromYear restricts results to papers published in or after this year.
	// Zero means no lower bound.
	FromYear int

	// ToYear restricts results to papers published in or before this year.
	// Zero means no upper bound.
	ToYear int

	// MaxResults caps the number of candidates requested from the provider.
	// Zero falls back to the adapter's configured page size.
	MaxResults int

	// ExcludePreprints asks the adapter to suppress preprint records.
	// Preprint-only providers return no candidates when set.
	ExcludePreprints bool

	// Domain is an optional topical hint (e.g. "biomed") carried through
	// for adapters that tune their query syntax by field.
	Domain string
}

// Provider is a single bibliographic source adapter.
// Implementations must be safe for concurrent use: the orchestrator calls
// Search from one goroutine per provider within a pipeline run.
type Provider interface {
	// Search returns candidates for the query in provider relevance order.
	// The returned slice may be empty; a non-nil error means the provider
	// contributed nothing to the run.
	Search(ctx context.Context, q Query) ([]domain.RawCandidate, error)

	// SourceType returns the stable provider identifier used as the map key
	// in orchestrator output and in candidate provenance.
	SourceType() domain.SourceType

	// Name returns the human-readable provider name.
	Name() string

	// IsEnabled reports whether the provider participates in searches.
	IsEnabled() bool
}
