package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Routes groups what the router mounts
type Routes struct {
	Middleware *Middleware
	Proxy      *ProxyHandler
	Health     *HealthHandler
	Secrets    *SecretsHandler
	Metrics    http.Handler // optional
	Ready      func(r *http.Request) error
	Timeout    time.Duration
}

// NewRouter builds the HTTP surface
func NewRouter(rt Routes) chi.Router {
	mw := rt.Middleware
	timeout := rt.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(mw.AccessLogMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))
	r.Use(mw.CORSMiddleware)

	// Liveness (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if rt.Ready != nil {
			if err := rt.Ready(r); err != nil {
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(mw.AuthMiddleware).Post("/proxy", rt.Proxy.HandleProxy)

		r.With(mw.OptionalAuthMiddleware).Get("/health", rt.Health.HandleHealth)

		r.Group(func(r chi.Router) {
			r.Use(mw.AuthMiddleware)
			r.Use(mw.RequireOperator)
			r.Get("/secrets", rt.Secrets.HandleSecrets)
			r.Post("/secrets", rt.Secrets.HandleSecrets)
		})
	})

	return r
}
