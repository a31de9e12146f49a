package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/credentials"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/health"
)

// SecretInfo is the credential status of one service. It never carries the
// secret value.
type SecretInfo struct {
	ServiceName  string `json:"service_name"`
	IsEnabled    bool   `json:"is_enabled"`
	SecretName   string `json:"secret_name"`
	HasSecret    bool   `json:"has_secret"`
	IsRequired   bool   `json:"is_required"`
	Instructions string `json:"instructions,omitempty"`
}

// SecretTest is the outcome of a single canary call made to verify a key
type SecretTest struct {
	ServiceName    string    `json:"service_name"`
	IsValid        bool      `json:"is_valid"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	TestedAt       time.Time `json:"tested_at"`
}

// ServiceHealth joins credential status with the health snapshot
type ServiceHealth struct {
	ServiceName       string        `json:"service_name"`
	IsEnabled         bool          `json:"is_enabled"`
	HasSecret         bool          `json:"has_secret"`
	IsRequired        bool          `json:"is_required"`
	CurrentStatus     health.Status `json:"current_status"`
	UptimePercentage  int           `json:"uptime_percentage"`
	AvgResponseTimeMs int           `json:"avg_response_time_ms"`
}

type SecretsTotals struct {
	TotalServices     int `json:"total_services"`
	ConfiguredSecrets int `json:"configured_secrets"`
	MissingRequired   int `json:"missing_required"`
	HealthyServices   int `json:"healthy_services"`
}

type SecretsHealth struct {
	Services []ServiceHealth `json:"services"`
	Totals   SecretsTotals   `json:"totals"`
}

// ListSecrets reports credential presence and setup instructions for every
// configured service
func (r *Reporter) ListSecrets(ctx context.Context) ([]SecretInfo, error) {
	services, err := r.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]SecretInfo, 0, len(services))
	for _, svc := range services {
		status, err := r.credentials.Status(ctx, svc)
		if err != nil {
			return nil, err
		}
		desc, _ := r.credentials.Descriptor(svc.Name)

		infos = append(infos, SecretInfo{
			ServiceName:  svc.Name,
			IsEnabled:    svc.IsEnabled,
			SecretName:   status.SecretName,
			HasSecret:    status.HasSecret,
			IsRequired:   status.IsRequired,
			Instructions: desc.Instructions,
		})
	}
	return infos, nil
}

// TestSecret makes one canary call with the service's credential. The call
// is not recorded in the health log.
func (r *Reporter) TestSecret(ctx context.Context, serviceName string) (*SecretTest, error) {
	svc, err := r.lookup(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	test := &SecretTest{ServiceName: svc.Name}
	desc, _ := r.credentials.Descriptor(svc.Name)
	canary := desc.Canary
	if canary.Endpoint == "" {
		canary.Endpoint = "/"
	}

	secret, placement, err := r.credentials.Resolve(ctx, *svc)
	if err != nil {
		if !errors.Is(err, credentials.ErrSecretMissing) && !errors.Is(err, credentials.ErrNoPlacement) {
			return nil, err
		}
		test.TestedAt = r.clock.Now()
		test.ErrorMessage = message("API key not configured")
		return test, nil
	}

	result, err := r.invoker.Invoke(ctx, *svc, secret, placement, canary.Endpoint, canary.Params)
	test.TestedAt = r.clock.Now()
	test.StatusCode = result.StatusCode
	test.ResponseTimeMs = int(result.Elapsed / time.Millisecond)

	switch {
	case err != nil:
		test.ErrorMessage = message(err.Error())
	case !result.OK():
		test.ErrorMessage = message(apierror.Upstream(svc.Name, result.StatusCode).Error())
	default:
		test.IsValid = true
	}
	return test, nil
}

// HealthSummary joins ListSecrets with the health snapshot and totals both
func (r *Reporter) HealthSummary(ctx context.Context) (*SecretsHealth, error) {
	infos, err := r.ListSecrets(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := r.Snapshot(ctx, "")
	if err != nil {
		return nil, err
	}

	byName := make(map[string]health.Summary, len(summaries))
	for _, s := range summaries {
		byName[s.ServiceName] = s
	}

	out := &SecretsHealth{Services: make([]ServiceHealth, 0, len(infos))}
	for _, info := range infos {
		s, ok := byName[info.ServiceName]
		if !ok {
			s = health.FromAggregate(info.ServiceName, nil)
		}

		out.Services = append(out.Services, ServiceHealth{
			ServiceName:       info.ServiceName,
			IsEnabled:         info.IsEnabled,
			HasSecret:         info.HasSecret,
			IsRequired:        info.IsRequired,
			CurrentStatus:     s.CurrentStatus,
			UptimePercentage:  s.UptimePercentage,
			AvgResponseTimeMs: s.AvgResponseTimeMs,
		})

		out.Totals.TotalServices++
		if info.HasSecret {
			out.Totals.ConfiguredSecrets++
		}
		if info.IsRequired && !info.HasSecret {
			out.Totals.MissingRequired++
		}
		if s.CurrentStatus == health.StatusHealthy {
			out.Totals.HealthyServices++
		}
	}
	return out, nil
}

func message(s string) *string {
	return &s
}
