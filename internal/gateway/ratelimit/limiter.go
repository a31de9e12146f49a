// Package ratelimit admits or rejects proxy calls per (user, service) using a
// fixed one-minute window.
//
// Windows are aligned to the wall-clock minute, so a caller can spend a full
// window's quota at 0:59 and another at 1:00. That boundary burst of up to
// twice the limit is accepted; a sliding window would change observable
// throttling at the boundary.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
)

// Window is the fixed window length
const Window = time.Minute

// Store holds the shared window counters. IncrementWindow must be atomic per
// key: it increments and admits while the count is below limit, otherwise it
// leaves the count unchanged and rejects.
type Store interface {
	IncrementWindow(ctx context.Context, serviceName, userID string, windowStart time.Time, limit int) (count int, admitted bool, err error)
}

// Decision is the outcome of Admit
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the time until the window resets, relative to now
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter is a fixed-window rate limiter
type Limiter struct {
	store   Store
	clock   clock.Clock
	timeout time.Duration
}

// New creates a limiter. timeout bounds each store call; zero disables it.
func New(store Store, clk clock.Clock, timeout time.Duration) *Limiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Limiter{store: store, clock: clk, timeout: timeout}
}

// WindowStart truncates t to the start of its minute
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(Window)
}

// Admit counts one request for (userID, serviceName) against limit
func (l *Limiter) Admit(ctx context.Context, userID, serviceName string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{}, fmt.Errorf("rate limit for %s must be positive, got %d", serviceName, limit)
	}

	start := WindowStart(l.clock.Now())

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	count, admitted, err := l.store.IncrementWindow(ctx, serviceName, userID, start, limit)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   admitted,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   start.Add(Window),
	}, nil
}
