// Package memstore keeps gateway state in process memory. It implements the
// same store methods as the Postgres and Redis backends and is meant for
// tests and single-instance development: state is not shared between
// replicas and is lost on restart.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

type windowKey struct {
	service string
	user    string
	start   int64
}

type cacheKey struct {
	user    string
	service string
	key     string
}

// Store is an in-memory store. The zero value is not usable; call New.
type Store struct {
	mu        sync.Mutex
	services  map[string]models.ServiceConfig
	windows   map[windowKey]int
	cache     map[cacheKey]models.CacheEntry
	health    []models.HealthLogEntry
	errorLogs []models.ErrorLogEntry
}

// New creates an empty store
func New() *Store {
	return &Store{
		services: make(map[string]models.ServiceConfig),
		windows:  make(map[windowKey]int),
		cache:    make(map[cacheKey]models.CacheEntry),
	}
}

// GetServiceConfig returns the named service or nil, nil
func (s *Store) GetServiceConfig(_ context.Context, name string) (*models.ServiceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[name]
	if !ok {
		return nil, nil
	}
	return &svc, nil
}

// ListServiceConfigs returns all services ordered by name
func (s *Store) ListServiceConfigs(_ context.Context) ([]models.ServiceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	services := make([]models.ServiceConfig, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// UpsertServiceConfig inserts or replaces a service keyed on name
func (s *Store) UpsertServiceConfig(_ context.Context, svc *models.ServiceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.services[svc.Name]; ok {
		svc.ID = existing.ID
		svc.CreatedAt = existing.CreatedAt
	} else {
		if svc.ID == "" {
			svc.ID = uuid.NewString()
		}
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now
	s.services[svc.Name] = *svc
	return nil
}

// IncrementWindow admits one request unless the window reached limit
func (s *Store) IncrementWindow(_ context.Context, serviceName, userID string, windowStart time.Time, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := windowKey{service: serviceName, user: userID, start: windowStart.Unix()}
	count := s.windows[key]
	if count >= limit {
		return count, false, nil
	}
	count++
	s.windows[key] = count
	return count, true, nil
}

// WindowCount returns the stored counter for a window
func (s *Store) WindowCount(serviceName, userID string, windowStart time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[windowKey{service: serviceName, user: userID, start: windowStart.Unix()}]
}

// DeleteRateLimitWindowsBefore drops windows that started before the cutoff
func (s *Store) DeleteRateLimitWindowsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key := range s.windows {
		if key.start < before.Unix() {
			delete(s.windows, key)
			n++
		}
	}
	return n, nil
}

// GetCacheEntry returns the entry if it expires after now, else nil, nil
func (s *Store) GetCacheEntry(_ context.Context, userID, serviceName, key string, now time.Time) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[cacheKey{user: userID, service: serviceName, key: key}]
	if !ok || !entry.ExpiresAt.After(now) {
		return nil, nil
	}
	entry.Data = append([]byte(nil), entry.Data...)
	return &entry, nil
}

// UpsertCacheEntry stores or replaces an entry
func (s *Store) UpsertCacheEntry(_ context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.Data = append([]byte(nil), entry.Data...)
	s.cache[cacheKey{user: entry.UserID, service: entry.ServiceName, key: entry.CacheKey}] = stored
	return nil
}

// DeleteExpiredCacheEntries drops entries whose expiry is at or before now
func (s *Store) DeleteExpiredCacheEntries(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, entry := range s.cache {
		if !entry.ExpiresAt.After(now) {
			delete(s.cache, key)
			n++
		}
	}
	return n, nil
}

// InsertHealthLog appends a health log entry
func (s *Store) InsertHealthLog(_ context.Context, entry *models.HealthLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.health = append(s.health, *entry)
	return nil
}

// InsertErrorLog appends an error log entry
func (s *Store) InsertErrorLog(_ context.Context, entry *models.ErrorLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.errorLogs = append(s.errorLogs, *entry)
	return nil
}

// RecentHealthLogs returns up to limit entries, newest first
func (s *Store) RecentHealthLogs(_ context.Context, serviceName string, limit int) ([]models.HealthLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []models.HealthLogEntry
	for _, e := range s.health {
		if serviceName == "" || e.ServiceName == serviceName {
			entries = append(entries, e)
		}
	}
	sortNewestFirst(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// SummarizeHealthSince aggregates entries per service from since onwards.
// Ties on checked_at resolve to the last written entry.
func (s *Store) SummarizeHealthSince(_ context.Context, serviceName string, since time.Time) ([]models.HealthAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type totals struct {
		agg      models.HealthAggregate
		ms       int
		latestAt time.Time
	}
	byName := make(map[string]*totals)

	for _, e := range s.health {
		if serviceName != "" && e.ServiceName != serviceName {
			continue
		}
		t, ok := byName[e.ServiceName]
		if !ok {
			t = &totals{agg: models.HealthAggregate{ServiceName: e.ServiceName}}
			byName[e.ServiceName] = t
		}

		if t.agg.LatestHealthy == nil || !e.CheckedAt.Before(t.latestAt) {
			healthy := e.IsHealthy
			t.agg.LatestHealthy = &healthy
			t.latestAt = e.CheckedAt
		}

		if e.CheckedAt.Before(since) {
			continue
		}
		t.agg.TotalChecks++
		t.ms += e.ResponseTimeMs
		if e.IsHealthy {
			t.agg.HealthyChecks++
		}
		if t.agg.LastCheck == nil || e.CheckedAt.After(*t.agg.LastCheck) {
			checked := e.CheckedAt
			t.agg.LastCheck = &checked
		}
	}

	out := make([]models.HealthAggregate, 0, len(byName))
	for _, t := range byName {
		if t.agg.TotalChecks > 0 {
			t.agg.AvgResponseTimeMs = int(math.Round(float64(t.ms) / float64(t.agg.TotalChecks)))
		}
		out = append(out, t.agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out, nil
}

// ErrorLogs returns a copy of all error log entries in insertion order
func (s *Store) ErrorLogs() []models.ErrorLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ErrorLogEntry(nil), s.errorLogs...)
}

// HealthLogs returns a copy of all health log entries in insertion order
func (s *Store) HealthLogs() []models.HealthLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HealthLogEntry(nil), s.health...)
}

// DeleteLogsBefore prunes health and error logs older than the cutoff
func (s *Store) DeleteLogsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	health := s.health[:0]
	for _, e := range s.health {
		if e.CheckedAt.Before(before) {
			n++
			continue
		}
		health = append(health, e)
	}
	s.health = health

	errorLogs := s.errorLogs[:0]
	for _, e := range s.errorLogs {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		errorLogs = append(errorLogs, e)
	}
	s.errorLogs = errorLogs

	return n, nil
}

// sortNewestFirst orders by checked_at descending, keeping insertion order
// for equal timestamps reversed so the last written wins.
func sortNewestFirst(entries []models.HealthLogEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CheckedAt.After(entries[j].CheckedAt)
	})
}
