package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

// InsertHealthLog appends one upstream attempt
func (db *DB) InsertHealthLog(ctx context.Context, entry *models.HealthLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO api_health_logs (
			id, service_name, endpoint, status_code, response_time_ms, is_healthy,
			cached, error_message, checked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		entry.ID,
		entry.ServiceName,
		entry.Endpoint,
		entry.StatusCode,
		entry.ResponseTimeMs,
		entry.IsHealthy,
		entry.Cached,
		entry.ErrorMessage,
		entry.CheckedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert health log: %w", err)
	}

	return nil
}

// InsertErrorLog appends one failed upstream call
func (db *DB) InsertErrorLog(ctx context.Context, entry *models.ErrorLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO api_error_logs (
			id, service_name, user_id, endpoint, error_type, error_message,
			request_payload, response_payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		entry.ID,
		entry.ServiceName,
		entry.UserID,
		entry.Endpoint,
		string(entry.ErrorType),
		entry.ErrorMessage,
		nullableText(entry.RequestPayload),
		nullableText(entry.ResponsePayload),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert error log: %w", err)
	}

	return nil
}

const healthColumns = `id, service_name, endpoint, status_code, response_time_ms, is_healthy,
		       cached, error_message, checked_at`

// RecentHealthLogs returns the newest attempts, newest first
func (db *DB) RecentHealthLogs(ctx context.Context, serviceName string, limit int) ([]models.HealthLogEntry, error) {
	query := `
		SELECT ` + healthColumns + `
		FROM api_health_logs
		WHERE ($1 = '' OR service_name = $1)
		ORDER BY checked_at DESC
		LIMIT $2
	`
	return db.queryHealthLogs(ctx, query, serviceName, limit)
}

// SummarizeHealthSince aggregates the health log per service from since
// onwards and attaches each service's newest outcome. Services with no rows
// at all are left out. An empty serviceName selects every service.
func (db *DB) SummarizeHealthSince(ctx context.Context, serviceName string, since time.Time) ([]models.HealthAggregate, error) {
	windowQuery := `
		SELECT service_name,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE is_healthy),
		       ROUND(AVG(response_time_ms))::int,
		       MAX(checked_at)
		FROM api_health_logs
		WHERE checked_at >= $1 AND ($2 = '' OR service_name = $2)
		GROUP BY service_name
	`
	latestQuery := `
		SELECT DISTINCT ON (service_name) service_name, is_healthy
		FROM api_health_logs
		WHERE ($1 = '' OR service_name = $1)
		ORDER BY service_name, checked_at DESC
	`

	byName := make(map[string]*models.HealthAggregate)

	rows, err := db.conn.QueryContext(ctx, windowQuery, since.UTC(), serviceName)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		agg := &models.HealthAggregate{}
		var last time.Time
		if err := rows.Scan(&agg.ServiceName, &agg.TotalChecks, &agg.HealthyChecks, &agg.AvgResponseTimeMs, &last); err != nil {
			return nil, fmt.Errorf("failed to scan health aggregate: %w", err)
		}
		agg.LastCheck = &last
		byName[agg.ServiceName] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	latest, err := db.conn.QueryContext(ctx, latestQuery, serviceName)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer latest.Close()

	for latest.Next() {
		var name string
		var healthy bool
		if err := latest.Scan(&name, &healthy); err != nil {
			return nil, fmt.Errorf("failed to scan latest health log: %w", err)
		}
		agg, ok := byName[name]
		if !ok {
			agg = &models.HealthAggregate{ServiceName: name}
			byName[name] = agg
		}
		agg.LatestHealthy = &healthy
	}
	if err := latest.Err(); err != nil {
		return nil, err
	}

	out := make([]models.HealthAggregate, 0, len(byName))
	for _, agg := range byName {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out, nil
}

// DeleteLogsBefore prunes health and error logs older than the cutoff
func (db *DB) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for _, query := range []string{
		`DELETE FROM api_health_logs WHERE checked_at < $1`,
		`DELETE FROM api_error_logs WHERE created_at < $1`,
	} {
		res, err := db.conn.ExecContext(ctx, query, before.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to prune logs: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func (db *DB) queryHealthLogs(ctx context.Context, query string, args ...any) ([]models.HealthLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var entries []models.HealthLogEntry
	for rows.Next() {
		var entry models.HealthLogEntry
		var errMsg sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.ServiceName,
			&entry.Endpoint,
			&entry.StatusCode,
			&entry.ResponseTimeMs,
			&entry.IsHealthy,
			&entry.Cached,
			&errMsg,
			&entry.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan health log: %w", err)
		}
		if errMsg.Valid {
			entry.ErrorMessage = &errMsg.String
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
