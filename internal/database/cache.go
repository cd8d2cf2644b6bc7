package database

import (
	"context"
	"time"

	"jokeapi/internal/cache"
)

const backendName = "postgres"

// CacheRepository stores served jokes in the joke_cache table.
// Rows older than the expiry are ignored on read and removed by PurgeExpired.
type CacheRepository struct {
	db         *DB
	expiry     time.Duration
	isLanguage cache.LanguageValidator
	clock      func() time.Time
}

func NewCacheRepository(db *DB, expiry time.Duration, isLanguage cache.LanguageValidator) *CacheRepository {
	if expiry <= 0 {
		expiry = cache.DefaultExpiry
	}
	return &CacheRepository{
		db:         db,
		expiry:     expiry,
		isLanguage: isLanguage,
		clock:      time.Now,
	}
}

func (r *CacheRepository) cutoff() time.Time {
	return r.clock().Add(-r.expiry)
}

func (r *CacheRepository) AddEntry(ctx context.Context, clientHash string, jokeID int, lang string) error {
	if err := cache.ValidateEntry(clientHash, jokeID, lang, r.isLanguage); err != nil {
		return err
	}

	query := `
		INSERT INTO joke_cache (client_hash, joke_id, lang, inserted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_hash, joke_id, lang) DO UPDATE SET
			inserted_at = EXCLUDED.inserted_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, clientHash, jokeID, lang, r.clock()); err != nil {
		return &cache.StoreError{Op: "add", Backend: backendName, Err: err}
	}
	return nil
}

func (r *CacheRepository) ListEntries(ctx context.Context, clientHash, lang string) ([]int, error) {
	if !cache.ValidClientHash(clientHash) {
		return nil, cache.ErrInvalidClientHash
	}

	query := `
		SELECT joke_id FROM joke_cache
		WHERE client_hash = $1 AND lang = $2 AND inserted_at > $3
		ORDER BY joke_id
	`
	rows, err := r.db.Pool.Query(ctx, query, clientHash, lang, r.cutoff())
	if err != nil {
		return nil, &cache.StoreError{Op: "list", Backend: backendName, Err: err}
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, &cache.StoreError{Op: "list", Backend: backendName, Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &cache.StoreError{Op: "list", Backend: backendName, Err: err}
	}
	return ids, nil
}

func (r *CacheRepository) ClearEntries(ctx context.Context, clientHash string) (int64, error) {
	if !cache.ValidClientHash(clientHash) {
		return 0, cache.ErrInvalidClientHash
	}

	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM joke_cache WHERE client_hash = $1", clientHash)
	if err != nil {
		return 0, &cache.StoreError{Op: "clear", Backend: backendName, Err: err}
	}
	return tag.RowsAffected(), nil
}

func (r *CacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM joke_cache WHERE inserted_at <= $1", r.cutoff())
	if err != nil {
		return 0, &cache.StoreError{Op: "purge", Backend: backendName, Err: err}
	}
	return tag.RowsAffected(), nil
}

func (r *CacheRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM joke_cache").Scan(&count)
	return count, err
}

var _ cache.Store = (*CacheRepository)(nil)
