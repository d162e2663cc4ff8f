package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evidencehq/litsearch/internal/domain"
)

// Compile-time interface verification.
var _ SearchRepository = (*PgSearchRepository)(nil)

// PgSearchRepository is a PostgreSQL implementation of SearchRepository.
type PgSearchRepository struct {
	db DBTX
}

// NewPgSearchRepository creates a new PostgreSQL search repository.
func NewPgSearchRepository(db DBTX) *PgSearchRepository {
	return &PgSearchRepository{db: db}
}

// Create inserts a new search request.
func (r *PgSearchRepository) Create(ctx context.Context, search *domain.Search) error {
	if search == nil {
		return domain.NewValidationError("search", "search cannot be nil")
	}
	if search.ID == uuid.Nil {
		return domain.NewValidationError("id", "search ID is required")
	}
	if search.Query == "" {
		return domain.NewValidationError("query", "query is required")
	}

	filtersJSON, err := json.Marshal(search.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}

	query := `
		INSERT INTO searches (
			id, query, filters, max_candidates, max_evidence_rows,
			response_mode, domain, status, run_version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err = r.db.Exec(ctx, query,
		search.ID, search.Query, filtersJSON, search.MaxCandidates, search.MaxEvidenceRows,
		search.ResponseMode, search.Domain, search.Status, search.RunVersion,
		search.CreatedAt, search.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("search", search.ID.String())
		}
		return fmt.Errorf("failed to create search: %w", err)
	}

	return nil
}

const searchColumns = `id, query, filters, max_candidates, max_evidence_rows,
		response_mode, domain, status, coverage, stats, error,
		active_run_id, run_version, created_at, updated_at`

// Get retrieves a search by its ID.
func (r *PgSearchRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Search, error) {
	query := `
		SELECT ` + searchColumns + `
		FROM searches
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	search, err := scanSearch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("search", id.String())
		}
		return nil, fmt.Errorf("failed to get search: %w", err)
	}

	return search, nil
}

// MarkCompleted transitions a running search to completed with its run outputs.
func (r *PgSearchRepository) MarkCompleted(ctx context.Context, id, runID uuid.UUID, coverage domain.CoverageReport, stats domain.RunStats) error {
	coverageJSON, err := json.Marshal(coverage)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	query := `
		UPDATE searches
		SET status = $1, coverage = $2, stats = $3, error = NULL,
			active_run_id = $4, updated_at = $5
		WHERE id = $6 AND status = $7`

	result, err := r.db.Exec(ctx, query,
		domain.SearchStatusCompleted, coverageJSON, statsJSON,
		runID, time.Now().UTC(), id, domain.SearchStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark search completed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("running search", id.String())
	}

	return nil
}

// MarkFailed transitions a running search to failed with a user-visible
// error message. Terminal searches are left untouched.
func (r *PgSearchRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE searches
		SET status = $1, error = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	_, err := r.db.Exec(ctx, query,
		domain.SearchStatusFailed, errorMsg, time.Now().UTC(),
		id, domain.SearchStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark search failed: %w", err)
	}

	return nil
}

// LatestCoverage returns the newest stored coverage report across searches.
func (r *PgSearchRepository) LatestCoverage(ctx context.Context) (*domain.CoverageReport, error) {
	query := `
		SELECT coverage
		FROM searches
		WHERE coverage IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT 1`

	var coverageJSON []byte
	if err := r.db.QueryRow(ctx, query).Scan(&coverageJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("coverage report", "latest")
		}
		return nil, fmt.Errorf("failed to get latest coverage: %w", err)
	}

	var coverage domain.CoverageReport
	if err := json.Unmarshal(coverageJSON, &coverage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coverage: %w", err)
	}

	return &coverage, nil
}

// scanSearch scans a single row into a Search.
func scanSearch(row pgx.Row) (*domain.Search, error) {
	var (
		search       domain.Search
		filtersJSON  []byte
		coverageJSON []byte
		statsJSON    []byte
	)

	err := row.Scan(
		&search.ID, &search.Query, &filtersJSON, &search.MaxCandidates, &search.MaxEvidenceRows,
		&search.ResponseMode, &search.Domain, &search.Status, &coverageJSON, &statsJSON,
		&search.Error, &search.ActiveRunID, &search.RunVersion,
		&search.CreatedAt, &search.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &search.Filters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
		}
	}
	if len(coverageJSON) > 0 {
		search.Coverage = &domain.CoverageReport{}
		if err := json.Unmarshal(coverageJSON, search.Coverage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coverage: %w", err)
		}
	}
	if len(statsJSON) > 0 {
		search.Stats = &domain.RunStats{}
		if err := json.Unmarshal(statsJSON, search.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
	}

	return &search, nil
}
