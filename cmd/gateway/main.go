package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/credentials"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/health"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/proxy"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/registry"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/reporting"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/upstream"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/config"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/database"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/logging"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/memstore"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/redis"
)

// stores binds each component to its configured backend
type stores struct {
	services  registry.Source
	writer    registry.Writer // nil when the catalog is served statically
	limiter   ratelimit.Store
	cache     cache.Store
	logs      interface {
		health.Store
		reporting.LogStore
	}
	retention reporting.RetentionStore
	ready     func(ctx context.Context) error
	close     func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// No logger yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting widget API gateway",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("store_backend", cfg.StoreBackend),
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open stores", zap.Error(err))
	}
	defer st.close()

	if cfg.ServicesFile != "" {
		catalog, err := registry.LoadFile(cfg.ServicesFile)
		if err != nil {
			logger.Fatal("failed to load service catalog", zap.Error(err))
		}
		st.services, err = registry.Install(ctx, catalog, st.services, st.writer)
		if err != nil {
			logger.Fatal("failed to install service catalog", zap.Error(err))
		}
		logger.Info("installed service catalog",
			zap.String("file", cfg.ServicesFile),
			zap.Int("services", len(catalog)),
			zap.Bool("static", st.writer == nil),
		)
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:        []byte(cfg.JWTSecret),
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		RoleClaim:     cfg.JWTRoleClaim,
		OperatorRoles: cfg.OperatorRoles,
	})
	if err != nil {
		logger.Fatal("failed to configure token verification", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)

	clk := clock.System{}
	reg := registry.New(st.services, registry.Defaults{
		RateLimitPerMinute: cfg.DefaultRateLimit,
		TimeoutSeconds:     cfg.DefaultTimeoutSeconds,
	})
	creds := credentials.NewResolver(credentials.EnvStore{Prefix: cfg.SecretEnvPrefix}, nil)
	invoker := upstream.NewInvoker(nil)
	recorder := health.NewRecorder(st.logs, clk, cfg.StoreTimeout, logger.Named("health"))

	gateway := proxy.New(proxy.Deps{
		Registry:    reg,
		Limiter:     ratelimit.New(st.limiter, clk, cfg.StoreTimeout),
		Cache:       cache.New(st.cache, clk, cfg.StoreTimeout),
		Credentials: creds,
		Invoker:     invoker,
		Recorder:    recorder,
		Metrics:     m,
		Logger:      logger.Named("proxy"),
	})
	reporter := reporting.New(reporting.Deps{
		Registry:    reg,
		Credentials: creds,
		Invoker:     invoker,
		Recorder:    recorder,
		Logs:        st.logs,
		Clock:       clk,
		Window:      cfg.HealthWindow,
		Metrics:     m,
		Logger:      logger.Named("reporting"),
	})

	scheduler := reporting.NewScheduler(
		reporter,
		reporting.NewCleaner(st.retention, clk, cfg.HealthLogRetention),
		reporting.ScheduleConfig{ProbeSchedule: cfg.ProbeSchedule, CleanupSchedule: cfg.CleanupSchedule},
		logger.Named("scheduler"),
	)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	router := handlers.NewRouter(handlers.Routes{
		Middleware: handlers.NewMiddleware(verifier, logger.Named("http")),
		Proxy:      handlers.NewProxyHandler(gateway, clk, logger.Named("http")),
		Health:     handlers.NewHealthHandler(reporter, clk),
		Secrets:    handlers.NewSecretsHandler(reporter),
		Metrics:    m.Handler(),
		Ready:      func(r *http.Request) error { return st.ready(r.Context()) },
		Timeout:    60 * time.Second,
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.Strings("routes", []string{
				"POST /v1/proxy",
				"GET  /v1/health",
				"GET|POST /v1/secrets",
				"GET  /health",
				"GET  /metrics",
			}),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StoreBackend == config.BackendMemory {
		mem := memstore.New()
		logger.Warn("using in-memory store; state is lost on restart and not shared between instances")
		return &stores{
			services:  mem,
			limiter:   mem,
			cache:     mem,
			logs:      mem,
			retention: mem,
			ready:     func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	st := &stores{
		services:  db,
		writer:    db,
		limiter:   db,
		cache:     db,
		logs:      db,
		retention: db,
		ready:     db.Ping,
		close:     func() { db.Close() },
	}

	if !cfg.NeedsRedis() {
		return st, nil
	}

	// Initialize Redis
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to Redis",
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	if cfg.RateLimitBackend == config.BackendRedis {
		st.limiter = redisClient
	}
	if cfg.CacheBackend == config.BackendRedis {
		st.cache = redisClient
	}
	st.ready = func(ctx context.Context) error {
		return errors.Join(db.Ping(ctx), redisClient.Ping(ctx))
	}
	st.close = func() {
		redisClient.Close()
		db.Close()
	}

	return st, nil
}
