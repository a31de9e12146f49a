package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors.
//
//   - gateway_proxy_requests_total{service,outcome}
//   - gateway_upstream_duration_seconds{service}
//   - gateway_cache_lookups_total{service,result}
//   - gateway_rate_limited_total{service}
//   - gateway_probes_total{service,healthy}
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	probesTotal      *prometheus.CounterVec
}

// New creates and registers the collectors on registry
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "proxy_requests_total",
				Help:      "Proxy calls by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "upstream_duration_seconds",
				Help:      "Upstream call latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"service"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result (hit, miss)",
			},
			[]string{"service", "result"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "rate_limited_total",
				Help:      "Proxy calls rejected by the rate limiter",
			},
			[]string{"service"},
		),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "probes_total",
				Help:      "Active probes by result",
			},
			[]string{"service", "healthy"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.upstreamDuration,
		m.cacheLookups,
		m.rateLimited,
		m.probesTotal,
	)

	return m
}

// Request counts a finished proxy call
func (m *Metrics) Request(service, outcome string) {
	m.requestsTotal.WithLabelValues(service, outcome).Inc()
}

// Upstream observes an upstream call duration
func (m *Metrics) Upstream(service string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(service).Observe(d.Seconds())
}

// CacheLookup counts a cache hit or miss
func (m *Metrics) CacheLookup(service string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(service, result).Inc()
}

// RateLimited counts a throttled call
func (m *Metrics) RateLimited(service string) {
	m.rateLimited.WithLabelValues(service).Inc()
}

// Probe counts an active probe result
func (m *Metrics) Probe(service string, healthy bool) {
	m.probesTotal.WithLabelValues(service, strconv.FormatBool(healthy)).Inc()
}

// Handler exposes the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
