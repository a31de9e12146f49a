package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/proxy"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
)

const maxRequestBody = 1 << 20

type ProxyHandler struct {
	gateway *proxy.Gateway
	clock   clock.Clock
	logger  *zap.Logger
}

func NewProxyHandler(gateway *proxy.Gateway, clk clock.Clock, logger *zap.Logger) *ProxyHandler {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyHandler{gateway: gateway, clock: clk, logger: logger}
}

// HandleProxy handles POST /v1/proxy
func (h *ProxyHandler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Set by AuthMiddleware
	id, ok := auth.FromContext(ctx)
	if !ok {
		writeError(w, apierror.New(apierror.Unauthenticated, "Unauthorized"))
		return
	}

	var req proxy.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, apierror.Wrap(apierror.InvalidRequest, err, "invalid request body"))
		return
	}

	resp, err := h.gateway.Proxy(ctx, id, req)

	if d := resp.RateLimit; d != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}

	if err != nil {
		kind := apierror.KindOf(err)
		if kind == apierror.RateLimited && resp.RateLimit != nil {
			seconds := int(math.Ceil(resp.RateLimit.RetryAfter(h.clock.Now()).Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
		if kind == apierror.Internal {
			h.logger.Error("proxy call failed", zap.String("service", req.Service), zap.Error(err))
		}
		resp.Error = publicMessage(err)
		writeJSON(w, statusOf(err), resp)
		return
	}

	w.Header().Set("X-Cache-Hit", strconv.FormatBool(resp.Cached))
	writeJSON(w, http.StatusOK, resp)
}
