package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Storage
	StoreBackend     string
	DatabaseURL      string
	RedisURL         string
	RateLimitBackend string
	CacheBackend     string
	StoreTimeout     time.Duration

	// Caller identity
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	JWTRoleClaim  string
	OperatorRoles []string

	// Services and credentials
	ServicesFile    string
	SecretEnvPrefix string

	// Defaults applied to incomplete service configs
	DefaultRateLimit      int
	DefaultTimeoutSeconds int

	// Health reporting
	HealthWindow       time.Duration
	HealthLogRetention time.Duration
	ProbeSchedule      string
	CleanupSchedule    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		StoreBackend:          strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		RateLimitBackend:      strings.ToLower(getEnv("RATE_LIMIT_BACKEND", BackendRedis)),
		CacheBackend:          strings.ToLower(getEnv("CACHE_BACKEND", BackendRedis)),
		StoreTimeout:          time.Duration(getEnvInt("STORE_TIMEOUT_MS", 2000)) * time.Millisecond,
		JWTSecret:             getEnv("JWT_SECRET", ""),
		JWTIssuer:             getEnv("JWT_ISSUER", ""),
		JWTAudience:           getEnv("JWT_AUDIENCE", ""),
		JWTRoleClaim:          getEnv("JWT_ROLE_CLAIM", "role"),
		OperatorRoles:         getEnvList("OPERATOR_ROLES", []string{"admin"}),
		ServicesFile:          getEnv("SERVICES_FILE", ""),
		SecretEnvPrefix:       getEnv("SECRET_ENV_PREFIX", ""),
		DefaultRateLimit:      getEnvInt("DEFAULT_RATE_LIMIT", 60),
		DefaultTimeoutSeconds: getEnvInt("DEFAULT_TIMEOUT_SECONDS", 10),
		HealthWindow:          time.Duration(getEnvInt("HEALTH_WINDOW_HOURS", 24)) * time.Hour,
		HealthLogRetention:    time.Duration(getEnvInt("HEALTH_LOG_RETENTION_DAYS", 30)) * 24 * time.Hour,
		ProbeSchedule:         getEnv("PROBE_SCHEDULE", "*/5 * * * *"),
		CleanupSchedule:       getEnv("CLEANUP_SCHEDULE", "0 * * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and backend combinations
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DefaultRateLimit <= 0 {
		return fmt.Errorf("DEFAULT_RATE_LIMIT must be positive, got %d", c.DefaultRateLimit)
	}
	if c.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("DEFAULT_TIMEOUT_SECONDS must be positive, got %d", c.DefaultTimeoutSeconds)
	}

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case BackendMemory:
		return nil
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q (postgres or memory)", c.StoreBackend)
	}

	if c.RateLimitBackend != BackendRedis && c.RateLimitBackend != BackendPostgres {
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q (redis or postgres)", c.RateLimitBackend)
	}
	if c.CacheBackend != BackendRedis && c.CacheBackend != BackendPostgres {
		return fmt.Errorf("unsupported CACHE_BACKEND %q (redis or postgres)", c.CacheBackend)
	}

	return nil
}

// NeedsRedis reports whether any component is backed by Redis
func (c *Config) NeedsRedis() bool {
	if c.StoreBackend == BackendMemory {
		return false
	}
	return c.RateLimitBackend == BackendRedis || c.CacheBackend == BackendRedis
}

// IsProduction reports whether the gateway runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
