package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/evidencehq/litsearch/internal/domain"
)

// SearchRepository manages literature search requests.
type SearchRepository interface {
	// Create inserts a new search in the running state.
	Create(ctx context.Context, search *domain.Search) error

	// Get retrieves a search by ID. Returns domain.ErrNotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Search, error)

	// MarkCompleted transitions a search to completed with the finished
	// run's coverage, stats, and ID.
	MarkCompleted(ctx context.Context, id, runID uuid.UUID, coverage domain.CoverageReport, stats domain.RunStats) error

	// MarkFailed transitions a search to failed with a user-visible error
	// message. Marking an already terminal search is a no-op.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error

	// LatestCoverage returns the most recently updated non-nil coverage
	// report across all searches, or domain.ErrNotFound when none exists.
	LatestCoverage(ctx context.Context) (*domain.CoverageReport, error)
}
