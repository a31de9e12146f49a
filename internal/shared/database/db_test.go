package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewWithConn(conn), mock
}

func TestIncrementWindow_Admitted(t *testing.T) {
	db, mock := newMockDB(t)
	window := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_limits")).
		WithArgs("weather", "u1", window, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"requests_count"}).AddRow(3))

	count, admitted, err := db.IncrementWindow(context.Background(), "weather", "u1", window, 5)
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementWindow_RejectedWhenFull(t *testing.T) {
	db, mock := newMockDB(t)
	window := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// The conditional upsert returns no row once the ceiling is reached.
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_limits")).
		WithArgs("weather", "u1", window, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"requests_count"}))

	count, admitted, err := db.IncrementWindow(context.Background(), "weather", "u1", window, 5)
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, 5, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetServiceConfig(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	cols := []string{"id", "name", "base_url", "is_enabled", "requires_credential", "rate_limit_per_minute",
		"cache_duration_minutes", "timeout_seconds", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM service_configs WHERE name = $1")).
		WithArgs("weather").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("id-1", "weather", "https://api.openweathermap.org/data/2.5", true, true, 30, 10, 5, now, now))

	svc, err := db.GetServiceConfig(context.Background(), "weather")
	require.NoError(t, err)
	require.NotNil(t, svc)
	assert.Equal(t, "weather", svc.Name)
	assert.Equal(t, 30, svc.RateLimitPerMinute)
	assert.Equal(t, 10*time.Minute, svc.CacheTTL())
	assert.Equal(t, 5*time.Second, svc.Timeout())

	mock.ExpectQuery(regexp.QuoteMeta("FROM service_configs WHERE name = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	svc, err = db.GetServiceConfig(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, svc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCacheEntry_FiltersOnExpiry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("expires_at > $4")).
		WithArgs("u1", "weather", "key", now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "service_name", "cache_key", "data", "expires_at", "created_at"}))

	entry, err := db.GetCacheEntry(context.Background(), "u1", "weather", "key", now)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCacheEntry(t *testing.T) {
	db, mock := newMockDB(t)
	expires := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, service_name, cache_key) DO UPDATE")).
		WithArgs("u1", "weather", "key", []byte(`{"temp":20}`), expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.UpsertCacheEntry(context.Background(), &models.CacheEntry{
		UserID:      "u1",
		ServiceName: "weather",
		CacheKey:    "key",
		Data:        []byte(`{"temp":20}`),
		ExpiresAt:   expires,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertHealthLog_AssignsID(t *testing.T) {
	db, mock := newMockDB(t)
	msg := "timeout"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_health_logs")).
		WithArgs(sqlmock.AnyArg(), "weather", "/weather", int64(0), int64(1001), false, false, msg, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.HealthLogEntry{
		ServiceName:    "weather",
		Endpoint:       "/weather",
		ResponseTimeMs: 1001,
		ErrorMessage:   &msg,
		CheckedAt:      time.Now(),
	}
	require.NoError(t, db.InsertHealthLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertErrorLog_NullPayloads(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_error_logs")).
		WithArgs(sqlmock.AnyArg(), "news", nil, "/top-headlines", "request_failed", "connection refused",
			`{"endpoint":"/top-headlines"}`, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.InsertErrorLog(context.Background(), &models.ErrorLogEntry{
		ServiceName:    "news",
		Endpoint:       "/top-headlines",
		ErrorType:      models.ErrorTypeRequestFailed,
		ErrorMessage:   "connection refused",
		RequestPayload: []byte(`{"endpoint":"/top-headlines"}`),
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLogsBefore_SumsBothTables(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM api_health_logs")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM api_error_logs")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := db.DeleteLogsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarizeHealthSince_AggregatesInSQL(t *testing.T) {
	db, mock := newMockDB(t)
	since := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	last := since.Add(23 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE is_healthy)")).
		WithArgs(since, "").
		WillReturnRows(sqlmock.NewRows([]string{"service_name", "count", "healthy", "avg", "max"}).
			AddRow("weather", 4, 3, 250, last))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (service_name) service_name, is_healthy")).
		WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{"service_name", "is_healthy"}).
			AddRow("news", false).
			AddRow("weather", true))

	aggs, err := db.SummarizeHealthSince(context.Background(), "", since)
	require.NoError(t, err)
	require.Len(t, aggs, 2)

	assert.Equal(t, "news", aggs[0].ServiceName)
	assert.Zero(t, aggs[0].TotalChecks)
	assert.Nil(t, aggs[0].LastCheck)
	require.NotNil(t, aggs[0].LatestHealthy)
	assert.False(t, *aggs[0].LatestHealthy)

	assert.Equal(t, models.HealthAggregate{
		ServiceName:       "weather",
		TotalChecks:       4,
		HealthyChecks:     3,
		AvgResponseTimeMs: 250,
		LastCheck:         &last,
		LatestHealthy:     aggs[1].LatestHealthy,
	}, aggs[1])
	assert.True(t, *aggs[1].LatestHealthy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarizeHealthSince_QueryError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM api_health_logs")).
		WillReturnError(assert.AnError)

	_, err := db.SummarizeHealthSince(context.Background(), "weather", time.Now())
	assert.ErrorIs(t, err, assert.AnError)
}
