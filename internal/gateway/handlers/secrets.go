package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/reporting"
)

type secretsRequest struct {
	Action  string `json:"action"`
	Service string `json:"service"`
}

type SecretsHandler struct {
	reporter *reporting.Reporter
}

func NewSecretsHandler(reporter *reporting.Reporter) *SecretsHandler {
	return &SecretsHandler{reporter: reporter}
}

// HandleSecrets handles GET|POST /v1/secrets?action=list|test|health-summary.
// POST accepts the same fields as a JSON body; query values fill any gaps.
func (h *SecretsHandler) HandleSecrets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req secretsRequest
	if r.Method == http.MethodPost {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, apierror.Wrap(apierror.InvalidRequest, err, "invalid request body"))
			return
		}
	}
	q := r.URL.Query()
	if req.Action == "" {
		req.Action = q.Get("action")
	}
	if req.Service == "" {
		req.Service = q.Get("service")
	}
	if req.Action == "" {
		req.Action = "list"
	}

	switch req.Action {
	case "list":
		secrets, err := h.reporter.ListSecrets(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool                   `json:"success"`
			Secrets []reporting.SecretInfo `json:"secrets"`
		}{true, secrets})

	case "test":
		if req.Service == "" {
			writeError(w, apierror.New(apierror.InvalidRequest, "service is required"))
			return
		}
		test, err := h.reporter.TestSecret(ctx, req.Service)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			*reporting.SecretTest
		}{true, test})

	case "health-summary":
		summary, err := h.reporter.HealthSummary(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			*reporting.SecretsHealth
		}{true, summary})

	default:
		writeError(w, apierror.New(apierror.InvalidRequest, "unknown action %q", req.Action))
	}
}
