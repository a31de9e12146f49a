package models

import "time"

// ServiceConfig describes a proxyable third-party service
type ServiceConfig struct {
	ID                   string    `json:"id,omitempty" yaml:"-"`
	Name                 string    `json:"name" yaml:"name"`
	BaseURL              string    `json:"base_url" yaml:"base_url"`
	IsEnabled            bool      `json:"is_enabled" yaml:"is_enabled"`
	RequiresCredential   bool      `json:"requires_credential" yaml:"requires_credential"`
	RateLimitPerMinute   int       `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	CacheDurationMinutes int       `json:"cache_duration_minutes" yaml:"cache_duration_minutes"`
	TimeoutSeconds       int       `json:"timeout_seconds" yaml:"timeout_seconds"`
	CreatedAt            time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt            time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// CacheTTL returns the configured response cache lifetime
func (s ServiceConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheDurationMinutes) * time.Minute
}

// Timeout returns the configured upstream deadline
func (s ServiceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RateLimitWindow is the request counter for one (user, service, minute)
type RateLimitWindow struct {
	ServiceName   string
	UserID        string
	WindowStart   time.Time
	RequestsCount int
}

// CacheEntry is a stored upstream response scoped to one caller
type CacheEntry struct {
	UserID      string
	ServiceName string
	CacheKey    string
	Data        []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// HealthLogEntry is one recorded upstream attempt
type HealthLogEntry struct {
	ID             string    `json:"id"`
	ServiceName    string    `json:"service_name"`
	Endpoint       string    `json:"endpoint"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IsHealthy      bool      `json:"is_healthy"`
	Cached         bool      `json:"cached"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// HealthAggregate totals one service's health log over a window.
// LatestHealthy is the outcome of the newest entry regardless of the window,
// nil when the service has never been recorded.
type HealthAggregate struct {
	ServiceName       string
	TotalChecks       int
	HealthyChecks     int
	AvgResponseTimeMs int
	LastCheck         *time.Time
	LatestHealthy     *bool
}

// ErrorType classifies an ErrorLogEntry
type ErrorType string

const (
	ErrorTypeRequestFailed ErrorType = "request_failed"
	ErrorTypeErrorResponse ErrorType = "error_response"
)

// ErrorLogEntry is the diagnostic trail of a failed upstream call
type ErrorLogEntry struct {
	ID              string    `json:"id"`
	ServiceName     string    `json:"service_name"`
	UserID          *string   `json:"user_id,omitempty"`
	Endpoint        string    `json:"endpoint"`
	ErrorType       ErrorType `json:"error_type"`
	ErrorMessage    string    `json:"error_message"`
	RequestPayload  []byte    `json:"request_payload,omitempty"`
	ResponsePayload []byte    `json:"response_payload,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SecretStatus reports credential presence for a service. It never carries
// the secret value.
type SecretStatus struct {
	ServiceName string `json:"service_name"`
	SecretName  string `json:"secret_name"`
	HasSecret   bool   `json:"has_secret"`
	IsRequired  bool   `json:"is_required"`
}
