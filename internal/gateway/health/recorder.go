// Package health records every upstream attempt and aggregates the
// recorded attempts into uptime and latency figures.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

// maxResponsePayload caps the response body kept in an error log row
const maxResponsePayload = 2 << 10

// Store is the write side of the health and error logs
type Store interface {
	InsertHealthLog(ctx context.Context, entry *models.HealthLogEntry) error
	InsertErrorLog(ctx context.Context, entry *models.ErrorLogEntry) error
}

// Attempt describes one upstream attempt, or a cache hit standing in for one
type Attempt struct {
	ServiceName string
	UserID      string // empty for active probes
	Endpoint    string
	Params      map[string]string
	StatusCode  int
	Elapsed     time.Duration
	Cached      bool
	Body        []byte // response body, kept only for error responses
	Err         error
}

// Healthy reports whether the attempt counts towards uptime
func (a Attempt) Healthy() bool {
	if a.Err != nil {
		return false
	}
	if a.Cached {
		return true
	}
	return a.StatusCode >= 200 && a.StatusCode < 300
}

// Recorder writes health and error log rows
type Recorder struct {
	store   Store
	clock   clock.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// NewRecorder creates a recorder. timeout bounds the writes for one attempt;
// zero disables it.
func NewRecorder(store Store, clk clock.Clock, timeout time.Duration, logger *zap.Logger) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, clock: clk, timeout: timeout, logger: logger}
}

// Record persists a HealthLogEntry for the attempt and, for timeouts,
// network failures and non-2xx responses, an ErrorLogEntry. Writes survive
// cancellation of ctx so an attempt is still recorded after the caller
// disconnects.
func (r *Recorder) Record(ctx context.Context, a Attempt) (*models.HealthLogEntry, error) {
	ctx = context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	now := r.clock.Now()
	status := a.StatusCode
	if a.Cached && status == 0 {
		status = http.StatusOK
	}

	entry := &models.HealthLogEntry{
		ServiceName:    a.ServiceName,
		Endpoint:       a.Endpoint,
		StatusCode:     status,
		ResponseTimeMs: int(a.Elapsed / time.Millisecond),
		IsHealthy:      a.Healthy(),
		Cached:         a.Cached,
		ErrorMessage:   errorMessage(a),
		CheckedAt:      now,
	}

	var errs []error
	if err := r.store.InsertHealthLog(ctx, entry); err != nil {
		errs = append(errs, fmt.Errorf("insert health log: %w", err))
	}

	if kind := apierror.KindOf(a.Err); a.Err != nil && apierror.IsUpstreamFault(kind) {
		if err := r.store.InsertErrorLog(ctx, r.errorEntry(a, kind, now)); err != nil {
			errs = append(errs, fmt.Errorf("insert error log: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		r.logger.Error("failed to record upstream attempt",
			zap.String("service", a.ServiceName),
			zap.String("endpoint", a.Endpoint),
			zap.Error(err),
		)
		return entry, err
	}

	return entry, nil
}

func (r *Recorder) errorEntry(a Attempt, kind apierror.Kind, now time.Time) *models.ErrorLogEntry {
	entry := &models.ErrorLogEntry{
		ServiceName:    a.ServiceName,
		Endpoint:       a.Endpoint,
		ErrorType:      models.ErrorTypeRequestFailed,
		ErrorMessage:   a.Err.Error(),
		RequestPayload: requestPayload(a.Endpoint, a.Params),
		CreatedAt:      now,
	}
	if a.UserID != "" {
		userID := a.UserID
		entry.UserID = &userID
	}
	if kind == apierror.UpstreamError {
		entry.ErrorType = models.ErrorTypeErrorResponse
		entry.ResponsePayload = truncate(a.Body, maxResponsePayload)
	}
	return entry
}

func errorMessage(a Attempt) *string {
	if a.Err == nil {
		return nil
	}
	msg := a.Err.Error()
	return &msg
}

// requestPayload captures what the caller asked for. Credentials are attached
// to the outgoing request later, so they never reach this payload.
func requestPayload(endpoint string, params map[string]string) []byte {
	if params == nil {
		params = map[string]string{}
	}
	payload, err := json.Marshal(struct {
		Endpoint string            `json:"endpoint"`
		Params   map[string]string `json:"params"`
	}{endpoint, params})
	if err != nil {
		return nil
	}
	return payload
}

// truncate cuts b to at most n bytes without splitting a UTF-8 sequence
func truncate(b []byte, n int) []byte {
	if len(b) > n {
		b = b[:n]
	}
	return []byte(strings.ToValidUTF8(string(b), ""))
}
