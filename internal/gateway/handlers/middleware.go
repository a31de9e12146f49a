package handlers

import (
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/auth"
)

type Middleware struct {
	verifier *auth.Verifier
	logger   *zap.Logger
}

func NewMiddleware(verifier *auth.Verifier, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		verifier: verifier,
		logger:   logger,
	}
}

// AuthMiddleware requires a valid bearer token
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.verifier.VerifyHeader(r.Header.Get("Authorization"))
		if err != nil {
			m.logger.Debug("rejected bearer token", zap.Error(err))
			writeError(w, apierror.Wrap(apierror.Unauthenticated, err, "Unauthorized"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// OptionalAuthMiddleware attaches the identity when a token is present. An
// absent header passes through anonymously; a bad token is still rejected.
func (m *Middleware) OptionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.verifier.VerifyHeader(r.Header.Get("Authorization"))
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			next.ServeHTTP(w, r)
		case err != nil:
			writeError(w, apierror.Wrap(apierror.Unauthenticated, err, "Unauthorized"))
		default:
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		}
	})
}

// RequireOperator rejects callers without an operator role. It must run
// after AuthMiddleware.
func (m *Middleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := requireOperator(r); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireOperator(r *http.Request) error {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return apierror.New(apierror.Unauthenticated, "Unauthorized")
	}
	if !id.Operator {
		return apierror.New(apierror.Forbidden, "Operator access required")
	}
	return nil
}

func isOperator(r *http.Request) bool {
	id, ok := auth.FromContext(r.Context())
	return ok && id.Operator
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After, X-Cache-Hit")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AccessLogMiddleware writes one structured line per request. Query strings
// are left out of the line.
func (m *Middleware) AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(startTime)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		}

		switch {
		case ww.Status() >= 500:
			m.logger.Error("request", fields...)
		case ww.Status() >= 400:
			m.logger.Warn("request", fields...)
		default:
			m.logger.Info("request", fields...)
		}
	})
}
