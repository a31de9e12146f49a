package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS service_configs (
	id                     UUID PRIMARY KEY,
	name                   TEXT NOT NULL UNIQUE,
	base_url               TEXT NOT NULL,
	is_enabled             BOOLEAN NOT NULL DEFAULT TRUE,
	requires_credential    BOOLEAN NOT NULL DEFAULT TRUE,
	rate_limit_per_minute  INTEGER NOT NULL DEFAULT 60,
	cache_duration_minutes INTEGER NOT NULL DEFAULT 5,
	timeout_seconds        INTEGER NOT NULL DEFAULT 10,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS rate_limits (
	service_name   TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	window_start   TIMESTAMPTZ NOT NULL,
	requests_count INTEGER NOT NULL DEFAULT 1,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (service_name, user_id, window_start)
);

CREATE INDEX IF NOT EXISTS idx_rate_limits_window_start ON rate_limits(window_start);

CREATE TABLE IF NOT EXISTS api_cache (
	user_id      TEXT NOT NULL,
	service_name TEXT NOT NULL,
	cache_key    TEXT NOT NULL,
	data         BYTEA NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, service_name, cache_key)
);

CREATE INDEX IF NOT EXISTS idx_api_cache_expires_at ON api_cache(expires_at);

CREATE TABLE IF NOT EXISTS api_health_logs (
	id               UUID PRIMARY KEY,
	service_name     TEXT NOT NULL,
	endpoint         TEXT NOT NULL,
	status_code      INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	is_healthy       BOOLEAN NOT NULL,
	cached           BOOLEAN NOT NULL DEFAULT FALSE,
	error_message    TEXT,
	checked_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_health_logs_service_checked ON api_health_logs(service_name, checked_at DESC);

CREATE TABLE IF NOT EXISTS api_error_logs (
	id               UUID PRIMARY KEY,
	service_name     TEXT NOT NULL,
	user_id          TEXT,
	endpoint         TEXT NOT NULL,
	error_type       TEXT NOT NULL,
	error_message    TEXT NOT NULL,
	request_payload  JSONB,
	response_payload TEXT,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_error_logs_created_at ON api_error_logs(created_at);
`

// Migrate creates the gateway tables if they don't exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
