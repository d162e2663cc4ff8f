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
var _ CacheRepository = (*PgCacheRepository)(nil)

// PgCacheRepository is a PostgreSQL implementation of CacheRepository.
// Expired entries are filtered on read; stale rows are overwritten on the
// next write for the same key rather than reaped eagerly.
type PgCacheRepository struct {
	db DBTX
}

// NewPgCacheRepository creates a new PostgreSQL cache repository.
func NewPgCacheRepository(db DBTX) *PgCacheRepository {
	return &PgCacheRepository{db: db}
}

// GetSearchID returns the unexpired cached search for a request key.
func (r *PgCacheRepository) GetSearchID(ctx context.Context, cacheKey string) (uuid.UUID, error) {
	query := `
		SELECT search_id
		FROM search_cache
		WHERE cache_key = $1 AND expires_at > now()`

	var searchID uuid.UUID
	if err := r.db.QueryRow(ctx, query, cacheKey).Scan(&searchID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, domain.NewNotFoundError("search cache entry", cacheKey)
		}
		return uuid.Nil, fmt.Errorf("failed to get search cache entry: %w", err)
	}

	return searchID, nil
}

// PutSearch stores a search under the request key, replacing any previous
// entry for the same key.
func (r *PgCacheRepository) PutSearch(ctx context.Context, cacheKey string, searchID uuid.UUID, ttl time.Duration) error {
	if cacheKey == "" {
		return domain.NewValidationError("cache_key", "cache key is required")
	}
	if ttl <= 0 {
		return domain.NewValidationError("ttl", "ttl must be positive")
	}

	query := `
		INSERT INTO search_cache (cache_key, search_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE
		SET search_id = EXCLUDED.search_id, expires_at = EXCLUDED.expires_at`

	_, err := r.db.Exec(ctx, query, cacheKey, searchID, time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to put search cache entry: %w", err)
	}

	return nil
}

// GetPaper returns an unexpired cached canonical paper.
func (r *PgCacheRepository) GetPaper(ctx context.Context, paperID string) (*domain.CanonicalPaper, error) {
	query := `
		SELECT payload
		FROM paper_cache
		WHERE paper_id = $1 AND expires_at > now()`

	var payload []byte
	if err := r.db.QueryRow(ctx, query, paperID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", paperID)
		}
		return nil, fmt.Errorf("failed to get cached paper: %w", err)
	}

	var paper domain.CanonicalPaper
	if err := json.Unmarshal(payload, &paper); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached paper: %w", err)
	}

	return &paper, nil
}

// PutPapers upserts canonical papers with the given TTL.
func (r *PgCacheRepository) PutPapers(ctx context.Context, papers []domain.CanonicalPaper, ttl time.Duration) error {
	if ttl <= 0 {
		return domain.NewValidationError("ttl", "ttl must be positive")
	}

	expiresAt := time.Now().UTC().Add(ttl)
	query := `
		INSERT INTO paper_cache (paper_id, payload, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (paper_id) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`

	for i := range papers {
		payload, err := json.Marshal(&papers[i])
		if err != nil {
			return fmt.Errorf("failed to marshal paper %s: %w", papers[i].PaperID, err)
		}
		if _, err := r.db.Exec(ctx, query, papers[i].PaperID, payload, expiresAt); err != nil {
			return fmt.Errorf("failed to put cached paper %s: %w", papers[i].PaperID, err)
		}
	}

	return nil
}
