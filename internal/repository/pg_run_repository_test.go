package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencehq/litsearch/internal/domain"
)

func newTestRun() *domain.Run {
	return &domain.Run{
		ID:        uuid.New(),
		SearchID:  uuid.New(),
		Version:   1,
		Coverage:  domain.CoverageReport{ProvidersQueried: 4},
		Stats:     domain.RunStats{RawCandidates: 120},
		CreatedAt: time.Now().UTC(),
	}
}

func TestPgRunRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		run := newTestRun()

		mock.ExpectExec("INSERT INTO runs").
			WithArgs(run.ID, run.SearchID, 1, pgxmock.AnyArg(), pgxmock.AnyArg(), run.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.Create(ctx, run)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps duplicate version to already exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		run := newTestRun()

		mock.ExpectExec("INSERT INTO runs").
			WithArgs(run.ID, run.SearchID, 1, pgxmock.AnyArg(), pgxmock.AnyArg(), run.CreatedAt).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err = repo.Create(ctx, run)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects nil run", func(t *testing.T) {
		repo := NewPgRunRepository(nil)
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgRunRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns run with unmarshaled outputs", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		run := newTestRun()

		resultsJSON, err := json.Marshal([]domain.StudyResult{{StudyID: "doi:10.1/abc", CompletenessTier: domain.TierStrict}})
		require.NoError(t, err)
		coverageJSON, err := json.Marshal(run.Coverage)
		require.NoError(t, err)
		statsJSON, err := json.Marshal(run.Stats)
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{
			"id", "search_id", "version", "results", "evidence", "brief", "coverage", "stats", "created_at",
		}).AddRow(
			run.ID, run.SearchID, run.Version,
			resultsJSON, []byte(`[]`), []byte(`[]`),
			coverageJSON, statsJSON, run.CreatedAt,
		)

		mock.ExpectQuery("SELECT (.+) FROM runs").
			WithArgs(run.ID).
			WillReturnRows(rows)

		got, err := repo.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		require.Len(t, got.Results, 1)
		assert.Equal(t, "doi:10.1/abc", got.Results[0].StudyID)
		assert.Empty(t, got.EvidenceTable)
		assert.Equal(t, 4, got.Coverage.ProvidersQueried)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		id := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM runs").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRunRepository_ListBySearch(t *testing.T) {
	ctx := context.Background()

	t.Run("lists runs newest version first", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		searchID := uuid.New()
		now := time.Now().UTC()

		rows := pgxmock.NewRows([]string{
			"id", "search_id", "version", "results", "evidence", "brief", "coverage", "stats", "created_at",
		}).AddRow(
			uuid.New(), searchID, 2, []byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`{}`), []byte(`{}`), now,
		).AddRow(
			uuid.New(), searchID, 1, []byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`{}`), []byte(`{}`), now.Add(-time.Hour),
		)

		mock.ExpectQuery("SELECT (.+) FROM runs").
			WithArgs(searchID).
			WillReturnRows(rows)

		runs, err := repo.ListBySearch(ctx, searchID)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, 2, runs[0].Version)
		assert.Equal(t, 1, runs[1].Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRunRepository_AppendResults(t *testing.T) {
	ctx := context.Background()

	t.Run("appends serialized results", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		id := uuid.New()
		results := []domain.StudyResult{{StudyID: "pmid:12345"}}
		resultsJSON, err := json.Marshal(results)
		require.NoError(t, err)

		mock.ExpectExec("UPDATE runs").
			WithArgs(resultsJSON, id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.AppendResults(ctx, id, results)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips database entirely for empty batch", func(t *testing.T) {
		repo := NewPgRunRepository(nil)
		err := repo.AppendResults(ctx, uuid.New(), nil)
		assert.NoError(t, err)
	})

	t.Run("returns not found for missing run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE runs").
			WithArgs(pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.AppendResults(ctx, id, []domain.StudyResult{{StudyID: "pmid:1"}})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRunRepository_SetOutputs(t *testing.T) {
	ctx := context.Background()

	t.Run("stores outputs", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE runs").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		evidence := []domain.EvidenceRow{{PaperID: "doi:10.1/abc"}}
		err = repo.SetOutputs(ctx, id, evidence, nil, domain.CoverageReport{}, domain.RunStats{EvidenceRows: 1})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serializes nil slices as empty arrays", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE runs").
			WithArgs([]byte(`[]`), []byte(`[]`), pgxmock.AnyArg(), pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.SetOutputs(ctx, id, nil, nil, domain.CoverageReport{}, domain.RunStats{})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE runs").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.SetOutputs(ctx, id, nil, nil, domain.CoverageReport{}, domain.RunStats{})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
