package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status. Messages of foreign errors are not
// exposed.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Success: false, Error: publicMessage(err)})
}

func statusOf(err error) int {
	return apierror.HTTPStatus(apierror.KindOf(err))
}

func publicMessage(err error) string {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) && apiErr.Kind != apierror.Internal {
		return apiErr.Message
	}
	return "Internal server error"
}
