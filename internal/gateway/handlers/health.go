package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/reporting"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

type healthBody struct {
	Success      bool                    `json:"success"`
	HealthChecks []reporting.ProbeResult `json:"health_checks,omitempty"`
	Summary      any                     `json:"summary,omitempty"`
	Logs         []models.HealthLogEntry `json:"logs,omitempty"`
	CheckedAt    time.Time               `json:"checked_at"`
}

type HealthHandler struct {
	reporter *reporting.Reporter
	clock    clock.Clock
}

func NewHealthHandler(reporter *reporting.Reporter, clk clock.Clock) *HealthHandler {
	if clk == nil {
		clk = clock.System{}
	}
	return &HealthHandler{reporter: reporter, clock: clk}
}

// HandleHealth handles GET /v1/health?action=check-all|check-service|get-logs.
// Only operators trigger live probes. Other callers get the summary built
// from recorded attempts.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	service := q.Get("service")

	action := q.Get("action")
	if action == "" {
		action = "check-all"
	}

	switch action {
	case "check-all":
		var results []reporting.ProbeResult
		if isOperator(r) {
			var err error
			if results, err = h.reporter.ProbeAll(ctx); err != nil {
				writeError(w, err)
				return
			}
		}
		overview, err := h.reporter.Overview(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, healthBody{
			Success:      true,
			HealthChecks: results,
			Summary:      overview,
			CheckedAt:    h.clock.Now(),
		})

	case "check-service":
		if service == "" {
			writeError(w, apierror.New(apierror.InvalidRequest, "service is required"))
			return
		}
		var results []reporting.ProbeResult
		if isOperator(r) {
			result, err := h.reporter.ProbeService(ctx, service)
			if err != nil {
				writeError(w, err)
				return
			}
			results = append(results, *result)
		}
		summaries, err := h.reporter.Snapshot(ctx, service)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, healthBody{
			Success:      true,
			HealthChecks: results,
			Summary:      summaries[0],
			CheckedAt:    h.clock.Now(),
		})

	case "get-logs":
		if err := requireOperator(r); err != nil {
			writeError(w, err)
			return
		}

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, apierror.New(apierror.InvalidRequest, "limit must be a non-negative integer"))
				return
			}
			limit = n
		}

		logs, err := h.reporter.Logs(ctx, service, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		// An empty list still serializes as [].
		writeJSON(w, http.StatusOK, struct {
			healthBody
			Logs []models.HealthLogEntry `json:"logs"`
		}{healthBody{Success: true, CheckedAt: h.clock.Now()}, logs})

	default:
		writeError(w, apierror.New(apierror.InvalidRequest, "unknown action %q", action))
	}
}
