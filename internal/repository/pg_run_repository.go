package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evidencehq/litsearch/internal/domain"
)

// Compile-time interface verification.
var _ RunRepository = (*PgRunRepository)(nil)

// PgRunRepository is a PostgreSQL implementation of RunRepository.
type PgRunRepository struct {
	db DBTX
}

// NewPgRunRepository creates a new PostgreSQL run repository.
func NewPgRunRepository(db DBTX) *PgRunRepository {
	return &PgRunRepository{db: db}
}

// Create inserts a new run snapshot with empty result arrays.
func (r *PgRunRepository) Create(ctx context.Context, run *domain.Run) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		return domain.NewValidationError("id", "run ID is required")
	}
	if run.SearchID == uuid.Nil {
		return domain.NewValidationError("search_id", "search ID is required")
	}

	coverageJSON, err := json.Marshal(run.Coverage)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	query := `
		INSERT INTO runs (id, search_id, version, coverage, stats, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.SearchID, run.Version, coverageJSON, statsJSON, run.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("run", run.ID.String())
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, search_id, version, results, evidence, brief, coverage, stats, created_at`

// Get retrieves a full run snapshot by its ID.
func (r *PgRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("run", id.String())
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListBySearch returns all runs for a search, newest version first.
func (r *PgRunRepository) ListBySearch(ctx context.Context, searchID uuid.UUID) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE search_id = $1
		ORDER BY version DESC`

	rows, err := r.db.Query(ctx, query, searchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendResults appends study results to the run's result array with a
// single jsonb concatenation. The append is atomic at the statement level,
// so concurrent appends from parallel extraction batches interleave without
// losing entries.
func (r *PgRunRepository) AppendResults(ctx context.Context, id uuid.UUID, results []domain.StudyResult) error {
	if len(results) == 0 {
		return nil
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	query := `
		UPDATE runs
		SET results = results || $1::jsonb
		WHERE id = $2`

	result, err := r.db.Exec(ctx, query, resultsJSON, id)
	if err != nil {
		return fmt.Errorf("failed to append results: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("run", id.String())
	}

	return nil
}

// SetOutputs stores the evidence table, brief, coverage, and stats.
func (r *PgRunRepository) SetOutputs(ctx context.Context, id uuid.UUID, evidence []domain.EvidenceRow, brief []domain.BriefSentence, coverage domain.CoverageReport, stats domain.RunStats) error {
	evidenceJSON, err := json.Marshal(emptyIfNilEvidence(evidence))
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}
	briefJSON, err := json.Marshal(emptyIfNilBrief(brief))
	if err != nil {
		return fmt.Errorf("failed to marshal brief: %w", err)
	}
	coverageJSON, err := json.Marshal(coverage)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	query := `
		UPDATE runs
		SET evidence = $1, brief = $2, coverage = $3, stats = $4
		WHERE id = $5`

	result, err := r.db.Exec(ctx, query, evidenceJSON, briefJSON, coverageJSON, statsJSON, id)
	if err != nil {
		return fmt.Errorf("failed to set run outputs: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("run", id.String())
	}

	return nil
}

// emptyIfNilEvidence keeps the stored jsonb an array, never null.
func emptyIfNilEvidence(rows []domain.EvidenceRow) []domain.EvidenceRow {
	if rows == nil {
		return []domain.EvidenceRow{}
	}
	return rows
}

func emptyIfNilBrief(sentences []domain.BriefSentence) []domain.BriefSentence {
	if sentences == nil {
		return []domain.BriefSentence{}
	}
	return sentences
}

// scanRun scans a single row into a Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		run          domain.Run
		resultsJSON  []byte
		evidenceJSON []byte
		briefJSON    []byte
		coverageJSON []byte
		statsJSON    []byte
	)

	err := row.Scan(
		&run.ID, &run.SearchID, &run.Version,
		&resultsJSON, &evidenceJSON, &briefJSON,
		&coverageJSON, &statsJSON, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}
	if len(evidenceJSON) > 0 {
		if err := json.Unmarshal(evidenceJSON, &run.EvidenceTable); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}
	if len(briefJSON) > 0 {
		if err := json.Unmarshal(briefJSON, &run.Brief); err != nil {
			return nil, fmt.Errorf("failed to unmarshal brief: %w", err)
		}
	}
	if len(coverageJSON) > 0 {
		if err := json.Unmarshal(coverageJSON, &run.Coverage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coverage: %w", err)
		}
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
	}

	return &run, nil
}
