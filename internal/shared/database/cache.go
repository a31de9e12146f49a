package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

// GetCacheEntry returns the live entry for the key, or nil, nil when it is
// absent or already expired at now.
func (db *DB) GetCacheEntry(ctx context.Context, userID, serviceName, cacheKey string, now time.Time) (*models.CacheEntry, error) {
	query := `
		SELECT user_id, service_name, cache_key, data, expires_at, created_at
		FROM api_cache
		WHERE user_id = $1 AND service_name = $2 AND cache_key = $3 AND expires_at > $4
	`

	var entry models.CacheEntry
	err := db.conn.QueryRowContext(ctx, query, userID, serviceName, cacheKey, now.UTC()).Scan(
		&entry.UserID,
		&entry.ServiceName,
		&entry.CacheKey,
		&entry.Data,
		&entry.ExpiresAt,
		&entry.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &entry, nil
}

// UpsertCacheEntry stores the entry, replacing any previous payload for the
// same (user, service, key).
func (db *DB) UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	query := `
		INSERT INTO api_cache (user_id, service_name, cache_key, data, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, service_name, cache_key) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at,
			created_at = NOW()
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		entry.UserID,
		entry.ServiceName,
		entry.CacheKey,
		entry.Data,
		entry.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}

	return nil
}

// DeleteExpiredCacheEntries removes rows whose expiry passed
func (db *DB) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM api_cache WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}
