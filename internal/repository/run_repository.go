package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/evidencehq/litsearch/internal/domain"
)

// RunRepository manages pipeline run snapshots.
type RunRepository interface {
	// Create inserts a new run with empty result arrays.
	Create(ctx context.Context, run *domain.Run) error

	// Get retrieves a full run snapshot. Returns domain.ErrNotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// ListBySearch returns run summaries for a search, newest first.
	ListBySearch(ctx context.Context, searchID uuid.UUID) ([]domain.Run, error)

	// AppendResults atomically appends study results to the run's result
	// array. Concurrent appends from parallel extraction batches never lose
	// entries: the append is a single jsonb concatenation statement.
	AppendResults(ctx context.Context, id uuid.UUID, results []domain.StudyResult) error

	// SetOutputs stores the evidence table, brief, coverage, and stats for
	// a finished run.
	SetOutputs(ctx context.Context, id uuid.UUID, evidence []domain.EvidenceRow, brief []domain.BriefSentence, coverage domain.CoverageReport, stats domain.RunStats) error
}
