// Package repository provides data access interfaces and PostgreSQL
// implementations for the literature search service.
//
// The package covers four concerns:
//
//   - SearchRepository: search request lifecycle and state
//   - RunRepository: pipeline run snapshots with atomic result appends
//   - JobQueue: the lease-based job table shared across workers
//   - CacheRepository: the search-level and paper-level read-through caches
//
// All implementations are safe for concurrent use; the underlying pgxpool
// handles connection pooling. Methods return domain errors (ErrNotFound,
// ErrAlreadyExists, ErrLeaseLost) wrapped with context via fmt.Errorf and %w.
//
// The DBTX interface supports both pool and transaction contexts: pass the
// *database.DB for standard operations or a pgx.Tx from
// database.DB.WithTransaction when several operations must be atomic.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evidencehq/litsearch/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
