package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/health"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
)

// RetentionStore prunes stale rows
type RetentionStore interface {
	DeleteRateLimitWindowsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
	DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// windowRetention is how long finished rate-limit windows are kept
const windowRetention = time.Hour

// Cleaner removes finished rate-limit windows, expired cache rows and
// health/error logs older than the retention period.
type Cleaner struct {
	store     RetentionStore
	clock     clock.Clock
	retention time.Duration
}

func NewCleaner(store RetentionStore, clk clock.Clock, retention time.Duration) *Cleaner {
	if clk == nil {
		clk = clock.System{}
	}
	return &Cleaner{store: store, clock: clk, retention: retention}
}

// CleanupResult counts the rows removed by one run
type CleanupResult struct {
	RateLimitWindows int64
	CacheEntries     int64
	Logs             int64
}

// Run prunes once. Every step runs even if an earlier one fails.
func (c *Cleaner) Run(ctx context.Context) (CleanupResult, error) {
	now := c.clock.Now()
	var res CleanupResult
	var errs []error

	n, err := c.store.DeleteRateLimitWindowsBefore(ctx, ratelimit.WindowStart(now).Add(-windowRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("prune rate limit windows: %w", err))
	}
	res.RateLimitWindows = n

	n, err = c.store.DeleteExpiredCacheEntries(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune cache entries: %w", err))
	}
	res.CacheEntries = n

	if c.retention > 0 {
		n, err = c.store.DeleteLogsBefore(ctx, now.Add(-c.retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune logs: %w", err))
		}
		res.Logs = n
	}

	return res, errors.Join(errs...)
}

// ScheduleConfig holds cron expressions; an empty expression disables its job
type ScheduleConfig struct {
	ProbeSchedule   string
	CleanupSchedule string
}

// Scheduler runs active probes and cleanup on cron schedules
type Scheduler struct {
	reporter *Reporter
	cleaner  *Cleaner
	config   ScheduleConfig
	cron     *cron.Cron
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler. A nil cleaner disables cleanup.
func NewScheduler(reporter *Reporter, cleaner *Cleaner, cfg ScheduleConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		reporter: reporter,
		cleaner:  cleaner,
		config:   cfg,
		cron:     cron.New(),
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Start validates and registers the jobs, then starts the cron runner. The
// scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	jobs := 0
	if s.config.ProbeSchedule != "" {
		if err := s.add(s.config.ProbeSchedule, func() { s.runProbes(ctx) }); err != nil {
			return err
		}
		jobs++
	}
	if s.config.CleanupSchedule != "" && s.cleaner != nil {
		if err := s.add(s.config.CleanupSchedule, func() { s.runCleanup(ctx) }); err != nil {
			return err
		}
		jobs++
	}
	if jobs == 0 {
		s.logger.Info("no schedules configured, scheduler idle")
		return nil
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started",
		zap.String("probe_schedule", s.config.ProbeSchedule),
		zap.String("cleanup_schedule", s.config.CleanupSchedule),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) add(spec string, job func()) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("failed to schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) runProbes(ctx context.Context) {
	results, err := s.reporter.ProbeAll(ctx)
	if err != nil {
		s.logger.Error("scheduled probes failed", zap.Error(err))
		return
	}

	unhealthy := 0
	for _, r := range results {
		if r.Status != health.StatusHealthy {
			unhealthy++
		}
	}
	s.logger.Info("scheduled probes completed",
		zap.Int("services", len(results)),
		zap.Int("unhealthy", unhealthy),
	)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	res, err := s.cleaner.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled cleanup failed", zap.Error(err))
	}
	s.logger.Debug("scheduled cleanup completed",
		zap.Int64("rate_limit_windows", res.RateLimitWindows),
		zap.Int64("cache_entries", res.CacheEntries),
		zap.Int64("logs", res.Logs),
	)
}

// Stop stops the cron runner and waits for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the cron runner is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRuns returns the next activation of each registered job
func (s *Scheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	next := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		next = append(next, e.Next)
	}
	return next
}
