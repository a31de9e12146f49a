package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an already opened connection pool
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

const serviceColumns = `id, name, base_url, is_enabled, requires_credential, rate_limit_per_minute,
		       cache_duration_minutes, timeout_seconds, created_at, updated_at`

// GetServiceConfig retrieves a service by name. It returns nil, nil when the
// service does not exist.
func (db *DB) GetServiceConfig(ctx context.Context, name string) (*models.ServiceConfig, error) {
	query := `SELECT ` + serviceColumns + ` FROM service_configs WHERE name = $1`

	svc, err := scanServiceConfig(db.conn.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return svc, nil
}

// ListServiceConfigs returns every configured service ordered by name
func (db *DB) ListServiceConfigs(ctx context.Context) ([]models.ServiceConfig, error) {
	query := `SELECT ` + serviceColumns + ` FROM service_configs ORDER BY name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var services []models.ServiceConfig
	for rows.Next() {
		svc, err := scanServiceConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service config: %w", err)
		}
		services = append(services, *svc)
	}

	return services, rows.Err()
}

// UpsertServiceConfig inserts or updates a service keyed on its name
func (db *DB) UpsertServiceConfig(ctx context.Context, svc *models.ServiceConfig) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}

	query := `
		INSERT INTO service_configs (
			id, name, base_url, is_enabled, requires_credential, rate_limit_per_minute,
			cache_duration_minutes, timeout_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			is_enabled = EXCLUDED.is_enabled,
			requires_credential = EXCLUDED.requires_credential,
			rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
			cache_duration_minutes = EXCLUDED.cache_duration_minutes,
			timeout_seconds = EXCLUDED.timeout_seconds,
			updated_at = NOW()
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		svc.ID,
		svc.Name,
		svc.BaseURL,
		svc.IsEnabled,
		svc.RequiresCredential,
		svc.RateLimitPerMinute,
		svc.CacheDurationMinutes,
		svc.TimeoutSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service %s: %w", svc.Name, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServiceConfig(row rowScanner) (*models.ServiceConfig, error) {
	var svc models.ServiceConfig
	err := row.Scan(
		&svc.ID,
		&svc.Name,
		&svc.BaseURL,
		&svc.IsEnabled,
		&svc.RequiresCredential,
		&svc.RateLimitPerMinute,
		&svc.CacheDurationMinutes,
		&svc.TimeoutSeconds,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &svc, nil
}
