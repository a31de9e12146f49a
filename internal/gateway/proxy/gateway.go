// Package proxy sequences a single proxied call: authenticate, resolve the
// service, rate-limit, consult the cache, resolve the credential, invoke the
// provider, record the outcome and store the response.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/credentials"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/health"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/registry"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/upstream"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

// Request is what a caller asks the gateway to fetch
type Request struct {
	Service  string            `json:"service"`
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params,omitempty"`
}

// Response is the envelope returned for every proxy call
type Response struct {
	Success        bool            `json:"success"`
	Data           json.RawMessage `json:"data,omitempty"`
	Cached         bool            `json:"cached"`
	Service        string          `json:"service,omitempty"`
	Endpoint       string          `json:"endpoint,omitempty"`
	ResponseTimeMs int             `json:"response_time_ms"`
	Error          string          `json:"error,omitempty"`

	// RateLimit is set once the limiter has run
	RateLimit *ratelimit.Decision `json:"-"`
}

// Gateway is the proxy orchestrator
type Gateway struct {
	registry    *registry.Registry
	limiter     *ratelimit.Limiter
	cache       *cache.Cache
	credentials *credentials.Resolver
	invoker     *upstream.Invoker
	recorder    *health.Recorder
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// Deps are the collaborators a Gateway sequences
type Deps struct {
	Registry    *registry.Registry
	Limiter     *ratelimit.Limiter
	Cache       *cache.Cache
	Credentials *credentials.Resolver
	Invoker     *upstream.Invoker
	Recorder    *health.Recorder
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

func New(d Deps) *Gateway {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Gateway{
		registry:    d.Registry,
		limiter:     d.Limiter,
		cache:       d.Cache,
		credentials: d.Credentials,
		invoker:     d.Invoker,
		recorder:    d.Recorder,
		metrics:     m,
		logger:      logger,
	}
}

// Proxy runs one call on behalf of id. The returned Response is never nil;
// on failure it carries the caller-facing message and err is an
// *apierror.Error.
func (g *Gateway) Proxy(ctx context.Context, id auth.Identity, req Request) (*Response, error) {
	startTime := time.Now()
	resp := &Response{Service: req.Service, Endpoint: req.Endpoint}

	// metrics label stays "unknown" until the service resolves
	label := "unknown"
	fail := func(err error) (*Response, error) {
		resp.Success = false
		resp.Error = err.Error()
		resp.ResponseTimeMs = elapsedMs(startTime)
		g.metrics.Request(label, string(apierror.KindOf(err)))
		return resp, err
	}

	if id.UserID == "" {
		return fail(apierror.New(apierror.Unauthenticated, "Unauthorized"))
	}
	if req.Service == "" || req.Endpoint == "" {
		return fail(apierror.New(apierror.InvalidRequest, "service and endpoint are required"))
	}

	svc, err := g.registry.Lookup(ctx, req.Service)
	if err != nil {
		g.logger.Error("service lookup failed", zap.String("service", req.Service), zap.Error(err))
		return fail(apierror.Wrap(apierror.Internal, err, "Internal server error"))
	}
	if svc == nil {
		return fail(apierror.New(apierror.ServiceNotFound, "Service not found: %s", req.Service))
	}
	label = svc.Name
	if !svc.IsEnabled {
		return fail(apierror.New(apierror.ServiceDisabled, "Service %s is disabled", req.Service))
	}
	if _, err := upstream.BuildURL(svc.BaseURL, req.Endpoint, req.Params); err != nil {
		return fail(err)
	}

	decision, err := g.limiter.Admit(ctx, id.UserID, svc.Name, svc.RateLimitPerMinute)
	if err != nil {
		g.logger.Error("rate limit check failed", zap.String("service", svc.Name), zap.Error(err))
		return fail(apierror.Wrap(apierror.Internal, err, "Internal server error"))
	}
	resp.RateLimit = &decision
	if !decision.Allowed {
		g.metrics.RateLimited(svc.Name)
		return fail(apierror.New(apierror.RateLimited, "Rate limit exceeded. Try again later."))
	}

	key := cache.Key(req.Endpoint, req.Params)
	if data, hit := g.lookupCache(ctx, id.UserID, svc.Name, key); hit {
		g.record(ctx, health.Attempt{
			ServiceName: svc.Name,
			UserID:      id.UserID,
			Endpoint:    req.Endpoint,
			Params:      req.Params,
			StatusCode:  200,
			Elapsed:     time.Since(startTime),
			Cached:      true,
		})

		resp.Success = true
		resp.Cached = true
		resp.Data = asJSON(data)
		resp.ResponseTimeMs = elapsedMs(startTime)
		g.metrics.Request(svc.Name, "cache_hit")
		return resp, nil
	}

	secret, placement, err := g.credentials.Resolve(ctx, *svc)
	if err != nil {
		if !errors.Is(err, credentials.ErrSecretMissing) && !errors.Is(err, credentials.ErrNoPlacement) {
			g.logger.Error("credential lookup failed", zap.String("service", svc.Name), zap.Error(err))
			return fail(apierror.Wrap(apierror.Internal, err, "Internal server error"))
		}
		missing := apierror.Wrap(apierror.CredentialMissing, err, "%s API key not configured", svc.Name)
		g.record(ctx, health.Attempt{
			ServiceName: svc.Name,
			UserID:      id.UserID,
			Endpoint:    req.Endpoint,
			Params:      req.Params,
			Err:         missing,
		})
		return fail(missing)
	}

	result, err := g.invoker.Invoke(ctx, *svc, secret, placement, req.Endpoint, req.Params)
	if err == nil && !result.OK() {
		err = apierror.Upstream(svc.Name, result.StatusCode)
	}
	if apierror.KindOf(err) != apierror.InvalidRequest {
		g.metrics.Upstream(svc.Name, result.Elapsed)
		g.record(ctx, health.Attempt{
			ServiceName: svc.Name,
			UserID:      id.UserID,
			Endpoint:    req.Endpoint,
			Params:      req.Params,
			StatusCode:  result.StatusCode,
			Elapsed:     result.Elapsed,
			Body:        result.Body,
			Err:         err,
		})
	}
	if err != nil {
		g.logger.Warn("upstream call failed",
			zap.String("service", svc.Name),
			zap.String("endpoint", req.Endpoint),
			zap.String("user_id", id.UserID),
			zap.Int("status_code", result.StatusCode),
			zap.Error(err),
		)
		return fail(err)
	}

	g.storeCache(ctx, id.UserID, svc, key, result.Body)

	resp.Success = true
	resp.Data = asJSON(result.Body)
	resp.ResponseTimeMs = elapsedMs(startTime)
	g.metrics.Request(svc.Name, "success")
	return resp, nil
}

// lookupCache treats a failing cache as a miss
func (g *Gateway) lookupCache(ctx context.Context, userID, serviceName, key string) ([]byte, bool) {
	data, hit, err := g.cache.Get(ctx, userID, serviceName, key)
	if err != nil {
		g.logger.Warn("cache lookup failed", zap.String("service", serviceName), zap.Error(err))
		return nil, false
	}
	g.metrics.CacheLookup(serviceName, hit)
	return data, hit
}

func (g *Gateway) storeCache(ctx context.Context, userID string, svc *models.ServiceConfig, key string, body []byte) {
	err := g.cache.Put(context.WithoutCancel(ctx), userID, svc.Name, key, body, svc.CacheTTL())
	if err != nil {
		g.logger.Warn("cache store failed", zap.String("service", svc.Name), zap.Error(err))
	}
}

func (g *Gateway) record(ctx context.Context, a health.Attempt) {
	// Recorder logs its own failures
	_, _ = g.recorder.Record(ctx, a)
}

// asJSON returns body as-is when it is JSON, otherwise as a JSON string
func asJSON(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func elapsedMs(start time.Time) int {
	return int(time.Since(start) / time.Millisecond)
}
