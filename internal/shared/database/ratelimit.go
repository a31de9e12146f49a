package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IncrementWindow atomically increments the counter for (service, user,
// window) unless it already reached limit. The conditional upsert runs as a
// single statement, so concurrent callers serialize on the row lock and never
// both pass the ceiling. A rejected call leaves the counter untouched.
func (db *DB) IncrementWindow(ctx context.Context, serviceName, userID string, windowStart time.Time, limit int) (int, bool, error) {
	query := `
		INSERT INTO rate_limits (service_name, user_id, window_start, requests_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (service_name, user_id, window_start) DO UPDATE SET
			requests_count = rate_limits.requests_count + 1,
			updated_at = NOW()
		WHERE rate_limits.requests_count < $4
		RETURNING requests_count
	`

	var count int
	err := db.conn.QueryRowContext(ctx, query, serviceName, userID, windowStart.UTC(), limit).Scan(&count)
	if err == sql.ErrNoRows {
		// The WHERE clause filtered the update: window is full.
		return limit, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment rate limit window: %w", err)
	}

	return count, true, nil
}

// DeleteRateLimitWindowsBefore removes windows that started before the cutoff
func (db *DB) DeleteRateLimitWindowsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete rate limit windows: %w", err)
	}
	return res.RowsAffected()
}
