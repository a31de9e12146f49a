// Package reporting serves the operator-facing read side: health snapshots,
// active probes, health log listings and credential status.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/credentials"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/health"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/registry"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/upstream"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500

	// DefaultWindow is the trailing window snapshots aggregate over
	DefaultWindow = 24 * time.Hour
)

// LogStore is the read side of the health log
type LogStore interface {
	SummarizeHealthSince(ctx context.Context, serviceName string, since time.Time) ([]models.HealthAggregate, error)
	RecentHealthLogs(ctx context.Context, serviceName string, limit int) ([]models.HealthLogEntry, error)
}

// Reporter aggregates health data and credential status
type Reporter struct {
	registry    *registry.Registry
	credentials *credentials.Resolver
	invoker     *upstream.Invoker
	recorder    *health.Recorder
	logs        LogStore
	clock       clock.Clock
	window      time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// Deps are the collaborators a Reporter reads from
type Deps struct {
	Registry    *registry.Registry
	Credentials *credentials.Resolver
	Invoker     *upstream.Invoker
	Recorder    *health.Recorder
	Logs        LogStore
	Clock       clock.Clock
	Window      time.Duration
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

func New(d Deps) *Reporter {
	r := &Reporter{
		registry:    d.Registry,
		credentials: d.Credentials,
		invoker:     d.Invoker,
		recorder:    d.Recorder,
		logs:        d.Logs,
		clock:       d.Clock,
		window:      d.Window,
		metrics:     d.Metrics,
		logger:      d.Logger,
	}
	if r.clock == nil {
		r.clock = clock.System{}
	}
	if r.window <= 0 {
		r.window = DefaultWindow
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// ProbeResult is the outcome of one active probe
type ProbeResult struct {
	ServiceName    string        `json:"service_name"`
	Status         health.Status `json:"status"`
	StatusCode     int           `json:"status_code"`
	ResponseTimeMs int           `json:"response_time_ms"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	CheckedAt      time.Time     `json:"checked_at"`
}

// Overview totals a set of snapshots
type Overview struct {
	TotalServices     int              `json:"total_services"`
	HealthyServices   int              `json:"healthy_services"`
	UnhealthyServices int              `json:"unhealthy_services"`
	Services          []health.Summary `json:"services"`
}

// Snapshot aggregates the trailing window for serviceName, or for every
// configured service when serviceName is empty.
func (r *Reporter) Snapshot(ctx context.Context, serviceName string) ([]health.Summary, error) {
	services, err := r.selectServices(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	since := r.clock.Now().Add(-r.window)
	aggregates, err := r.logs.SummarizeHealthSince(ctx, serviceName, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize health logs: %w", err)
	}

	byName := make(map[string]*models.HealthAggregate, len(aggregates))
	for i := range aggregates {
		byName[aggregates[i].ServiceName] = &aggregates[i]
	}

	summaries := make([]health.Summary, 0, len(services))
	for _, svc := range services {
		summaries = append(summaries, health.FromAggregate(svc.Name, byName[svc.Name]))
	}

	return summaries, nil
}

// Overview snapshots every service and totals the current statuses
func (r *Reporter) Overview(ctx context.Context) (*Overview, error) {
	summaries, err := r.Snapshot(ctx, "")
	if err != nil {
		return nil, err
	}

	o := &Overview{TotalServices: len(summaries), Services: summaries}
	for _, s := range summaries {
		switch s.CurrentStatus {
		case health.StatusHealthy:
			o.HealthyServices++
		case health.StatusUnhealthy:
			o.UnhealthyServices++
		}
	}
	return o, nil
}

// ActiveProbe calls the service's canary endpoint once and records the
// outcome like any other upstream attempt.
func (r *Reporter) ActiveProbe(ctx context.Context, svc models.ServiceConfig) ProbeResult {
	desc, _ := r.credentials.Descriptor(svc.Name)
	canary := desc.Canary
	if canary.Endpoint == "" {
		canary.Endpoint = "/"
	}

	attempt := health.Attempt{
		ServiceName: svc.Name,
		Endpoint:    canary.Endpoint,
		Params:      canary.Params,
	}

	secret, placement, err := r.credentials.Resolve(ctx, svc)
	switch {
	case errors.Is(err, credentials.ErrSecretMissing), errors.Is(err, credentials.ErrNoPlacement):
		attempt.Err = apierror.Wrap(apierror.CredentialMissing, err, "%s API key not configured", svc.Name)
	case err != nil:
		attempt.Err = apierror.Wrap(apierror.Internal, err, "credential lookup failed")
	default:
		result, err := r.invoker.Invoke(ctx, svc, secret, placement, canary.Endpoint, canary.Params)
		if err == nil && !result.OK() {
			err = apierror.Upstream(svc.Name, result.StatusCode)
		}
		attempt.StatusCode = result.StatusCode
		attempt.Elapsed = result.Elapsed
		attempt.Body = result.Body
		attempt.Err = err
	}

	entry, _ := r.recorder.Record(ctx, attempt)
	if r.metrics != nil {
		r.metrics.Probe(svc.Name, entry.IsHealthy)
	}

	if attempt.Err != nil {
		r.logger.Warn("health probe failed",
			zap.String("service", svc.Name),
			zap.Int("status_code", attempt.StatusCode),
			zap.Error(attempt.Err),
		)
	}

	return ProbeResult{
		ServiceName:    svc.Name,
		Status:         health.StatusOf(entry),
		StatusCode:     entry.StatusCode,
		ResponseTimeMs: entry.ResponseTimeMs,
		ErrorMessage:   entry.ErrorMessage,
		CheckedAt:      entry.CheckedAt,
	}
}

// ProbeService probes one named, enabled service
func (r *Reporter) ProbeService(ctx context.Context, serviceName string) (*ProbeResult, error) {
	svc, err := r.lookup(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if !svc.IsEnabled {
		return nil, apierror.New(apierror.ServiceDisabled, "Service %s is disabled", serviceName)
	}

	result := r.ActiveProbe(ctx, *svc)
	return &result, nil
}

// ProbeAll probes every enabled service concurrently. Results follow the
// registry's ordering.
func (r *Reporter) ProbeAll(ctx context.Context) ([]ProbeResult, error) {
	services, err := r.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	var enabled []models.ServiceConfig
	for _, svc := range services {
		if svc.IsEnabled {
			enabled = append(enabled, svc)
		}
	}

	results := make([]ProbeResult, len(enabled))
	var wg sync.WaitGroup
	for i, svc := range enabled {
		wg.Add(1)
		go func(i int, svc models.ServiceConfig) {
			defer wg.Done()
			results[i] = r.ActiveProbe(ctx, svc)
		}(i, svc)
	}
	wg.Wait()

	return results, nil
}

// Logs returns the most recent health log entries, newest first. limit is
// clamped to [1, MaxLogLimit]; zero means DefaultLogLimit.
func (r *Reporter) Logs(ctx context.Context, serviceName string, limit int) ([]models.HealthLogEntry, error) {
	if serviceName != "" {
		if _, err := r.lookup(ctx, serviceName); err != nil {
			return nil, err
		}
	}

	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}

	entries, err := r.logs.RecentHealthLogs(ctx, serviceName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load health logs: %w", err)
	}
	if entries == nil {
		entries = []models.HealthLogEntry{}
	}
	return entries, nil
}

func (r *Reporter) lookup(ctx context.Context, serviceName string) (*models.ServiceConfig, error) {
	svc, err := r.registry.Lookup(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, apierror.New(apierror.ServiceNotFound, "Service not found: %s", serviceName)
	}
	return svc, nil
}

func (r *Reporter) selectServices(ctx context.Context, serviceName string) ([]models.ServiceConfig, error) {
	if serviceName == "" {
		return r.registry.List(ctx)
	}
	svc, err := r.lookup(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return []models.ServiceConfig{*svc}, nil
}
