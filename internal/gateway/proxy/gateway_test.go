package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/credentials"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/health"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/registry"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/upstream"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/memstore"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	u1 = auth.Identity{UserID: "u1"}
	u2 = auth.Identity{UserID: "u2"}
)

type harness struct {
	gw    *Gateway
	store *memstore.Store
	clk   *clock.Fixed
	hits  *atomic.Int64
}

func newHarness(t *testing.T, handler http.HandlerFunc, secrets credentials.StaticStore, services ...models.ServiceConfig) *harness {
	t.Helper()

	hits := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	for i := range services {
		if services[i].BaseURL == "" {
			services[i].BaseURL = srv.URL
		}
	}
	static, err := registry.NewStatic(services)
	require.NoError(t, err)

	store := memstore.New()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC))

	gw := New(Deps{
		Registry:    registry.New(static, registry.Defaults{RateLimitPerMinute: 60, TimeoutSeconds: 10}),
		Limiter:     ratelimit.New(store, clk, time.Second),
		Cache:       cache.New(store, clk, time.Second),
		Credentials: credentials.NewResolver(secrets, nil),
		Invoker:     upstream.NewInvoker(srv.Client()),
		Recorder:    health.NewRecorder(store, clk, time.Second, nil),
	})

	return &harness{gw: gw, store: store, clk: clk, hits: hits}
}

func weather(limit int) models.ServiceConfig {
	return models.ServiceConfig{
		Name:                 "weather",
		IsEnabled:            true,
		RequiresCredential:   true,
		RateLimitPerMinute:   limit,
		CacheDurationMinutes: 10,
		TimeoutSeconds:       5,
	}
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

var weatherKey = credentials.StaticStore{"OPENWEATHER_API_KEY": "k-123"}

func TestProxy_SixCallsLimitFive(t *testing.T) {
	h := newHarness(t, okJSON(`{"main":{"temp":12.5}}`), weatherKey, weather(5))
	req := Request{Service: "weather", Endpoint: "/weather", Params: map[string]string{"q": "London"}}
	ctx := context.Background()

	first, err := h.gw.Proxy(ctx, u1, req)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.False(t, first.Cached)

	for i := 2; i <= 5; i++ {
		resp, err := h.gw.Proxy(ctx, u1, req)
		require.NoError(t, err, "call %d", i)
		assert.True(t, resp.Cached, "call %d", i)
		assert.Equal(t, string(first.Data), string(resp.Data))
	}

	resp, err := h.gw.Proxy(ctx, u1, req)
	require.Error(t, err)
	assert.Equal(t, apierror.RateLimited, apierror.KindOf(err))
	assert.False(t, resp.Success)
	assert.Equal(t, "Rate limit exceeded. Try again later.", resp.Error)
	require.NotNil(t, resp.RateLimit)
	assert.Equal(t, 0, resp.RateLimit.Remaining)

	assert.Equal(t, int64(1), h.hits.Load())
	assert.Len(t, h.store.HealthLogs(), 5)
	assert.Empty(t, h.store.ErrorLogs())
}

func TestProxy_DisabledServiceShortCircuits(t *testing.T) {
	news := models.ServiceConfig{Name: "news", IsEnabled: false, RequiresCredential: true, RateLimitPerMinute: 5}
	h := newHarness(t, okJSON(`{}`), credentials.StaticStore{}, news)

	resp, err := h.gw.Proxy(context.Background(), u1, Request{Service: "news", Endpoint: "/top-headlines"})
	require.Error(t, err)
	assert.Equal(t, apierror.ServiceDisabled, apierror.KindOf(err))
	assert.Nil(t, resp.RateLimit)

	assert.Equal(t, 0, h.store.WindowCount("news", "u1", ratelimit.WindowStart(h.clk.Now())))
	assert.Empty(t, h.store.HealthLogs())
	assert.Zero(t, h.hits.Load())
}

func TestProxy_UnknownService(t *testing.T) {
	h := newHarness(t, okJSON(`{}`), weatherKey, weather(5))

	resp, err := h.gw.Proxy(context.Background(), u1, Request{Service: "lottery", Endpoint: "/draw"})
	assert.Equal(t, apierror.ServiceNotFound, apierror.KindOf(err))
	assert.Equal(t, "Service not found: lottery", resp.Error)
}

func TestProxy_Unauthenticated(t *testing.T) {
	h := newHarness(t, okJSON(`{}`), weatherKey, weather(5))

	_, err := h.gw.Proxy(context.Background(), auth.Identity{}, Request{Service: "weather", Endpoint: "/weather"})
	assert.Equal(t, apierror.Unauthenticated, apierror.KindOf(err))
	assert.Empty(t, h.store.HealthLogs())
}

func TestProxy_CacheHitSkipsInvocation(t *testing.T) {
	body := `{"list":[{"dt":1},{"dt":2}],  "city":"London"}`
	h := newHarness(t, okJSON(body), weatherKey, weather(30))
	ctx := context.Background()

	_, err := h.gw.Proxy(ctx, u1, Request{Service: "weather", Endpoint: "/forecast", Params: map[string]string{"q": "London", "cnt": "2"}})
	require.NoError(t, err)

	resp, err := h.gw.Proxy(ctx, u1, Request{Service: "weather", Endpoint: "/forecast", Params: map[string]string{"cnt": "2", "q": "London"}})
	require.NoError(t, err)

	assert.True(t, resp.Cached)
	assert.Equal(t, body, string(resp.Data))
	assert.Equal(t, int64(1), h.hits.Load())

	logs := h.store.HealthLogs()
	require.Len(t, logs, 2)
	assert.True(t, logs[1].Cached)
	assert.True(t, logs[1].IsHealthy)
}

func TestProxy_CacheExpires(t *testing.T) {
	h := newHarness(t, okJSON(`{}`), weatherKey, weather(30))
	ctx := context.Background()
	req := Request{Service: "weather", Endpoint: "/weather"}

	_, err := h.gw.Proxy(ctx, u1, req)
	require.NoError(t, err)

	h.clk.Advance(10*time.Minute + time.Second)
	resp, err := h.gw.Proxy(ctx, u1, req)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, int64(2), h.hits.Load())
}

func TestProxy_CacheIsPerUser(t *testing.T) {
	h := newHarness(t, okJSON(`{}`), weatherKey, weather(30))
	ctx := context.Background()
	req := Request{Service: "weather", Endpoint: "/weather"}

	_, err := h.gw.Proxy(ctx, u1, req)
	require.NoError(t, err)
	resp, err := h.gw.Proxy(ctx, u2, req)
	require.NoError(t, err)

	assert.False(t, resp.Cached)
	assert.Equal(t, int64(2), h.hits.Load())
}

func TestProxy_TimeoutRecordsUnhealthy(t *testing.T) {
	hang := func(w http.ResponseWriter, r *http.Request) { <-r.Context().Done() }
	svc := weather(30)
	svc.TimeoutSeconds = 1
	h := newHarness(t, hang, weatherKey, svc)

	start := time.Now()
	resp, err := h.gw.Proxy(context.Background(), u1, Request{Service: "weather", Endpoint: "/weather"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, apierror.Timeout, apierror.KindOf(err))
	assert.Equal(t, "Request timeout after 1s", resp.Error)

	logs := h.store.HealthLogs()
	require.Len(t, logs, 1)
	assert.False(t, logs[0].IsHealthy)

	errs := h.store.ErrorLogs()
	require.Len(t, errs, 1)
	assert.Equal(t, models.ErrorTypeRequestFailed, errs[0].ErrorType)
}

func TestProxy_UpstreamErrorNotCached(t *testing.T) {
	fail := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"upstream down"}`))
	}
	h := newHarness(t, fail, weatherKey, weather(30))
	ctx := context.Background()
	req := Request{Service: "weather", Endpoint: "/weather"}

	resp, err := h.gw.Proxy(ctx, u1, req)
	require.Error(t, err)
	assert.Equal(t, apierror.UpstreamError, apierror.KindOf(err))
	assert.Equal(t, "weather API error: status 502", resp.Error)

	_, _ = h.gw.Proxy(ctx, u1, req)
	assert.Equal(t, int64(2), h.hits.Load())

	errs := h.store.ErrorLogs()
	require.Len(t, errs, 2)
	assert.Equal(t, models.ErrorTypeErrorResponse, errs[0].ErrorType)
	assert.Contains(t, string(errs[0].ResponsePayload), "upstream down")
	assert.NotContains(t, string(errs[0].RequestPayload), "k-123")
}

func TestProxy_CredentialMissing(t *testing.T) {
	sports := models.ServiceConfig{Name: "sports", IsEnabled: true, RequiresCredential: true, RateLimitPerMinute: 10, CacheDurationMinutes: 5}
	h := newHarness(t, okJSON(`{}`), credentials.StaticStore{}, sports)

	resp, err := h.gw.Proxy(context.Background(), u1, Request{Service: "sports", Endpoint: "/competitions"})
	require.Error(t, err)
	assert.Equal(t, apierror.CredentialMissing, apierror.KindOf(err))
	assert.Equal(t, "sports API key not configured", resp.Error)
	assert.Zero(t, h.hits.Load())

	logs := h.store.HealthLogs()
	require.Len(t, logs, 1)
	assert.False(t, logs[0].IsHealthy)
	assert.Empty(t, h.store.ErrorLogs())
}

func TestProxy_NoCredentialNeeded(t *testing.T) {
	var gotQuery string
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"gecko_says":"(V3) To the Moon!"}`))
	}
	crypto := models.ServiceConfig{Name: "crypto", IsEnabled: true, RequiresCredential: false, RateLimitPerMinute: 30, CacheDurationMinutes: 2}
	h := newHarness(t, handler, credentials.StaticStore{}, crypto)

	resp, err := h.gw.Proxy(context.Background(), u1, Request{Service: "crypto", Endpoint: "/ping"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, gotQuery)
}

func TestProxy_NonJSONBodyIsString(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("symbol,price\nIBM,190")) }, weatherKey, weather(30))

	resp, err := h.gw.Proxy(context.Background(), u1, Request{Service: "weather", Endpoint: "/weather"})
	require.NoError(t, err)
	assert.JSONEq(t, `"symbol,price\nIBM,190"`, string(resp.Data))
}

func TestProxy_UnsafeEndpointDoesNotCount(t *testing.T) {
	h := newHarness(t, okJSON(`{}`), weatherKey, weather(30))

	_, err := h.gw.Proxy(context.Background(), u1, Request{Service: "weather", Endpoint: "https://evil.example.com/"})
	assert.Equal(t, apierror.InvalidRequest, apierror.KindOf(err))
	assert.Equal(t, 0, h.store.WindowCount("weather", "u1", ratelimit.WindowStart(h.clk.Now())))
	assert.Zero(t, h.hits.Load())
}

func TestProxy_CredentialAttached(t *testing.T) {
	var gotKey string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("appid")
		w.Write([]byte(`{}`))
	}, weatherKey, weather(30))

	_, err := h.gw.Proxy(context.Background(), u1, Request{Service: "weather", Endpoint: "/weather"})
	require.NoError(t, err)
	assert.Equal(t, "k-123", gotKey)
}
