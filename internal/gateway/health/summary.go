package health

import (
	"math"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

// Status is the current state of a service, taken from its latest attempt
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// StatusOf derives the current status from the most recent entry, which
// may be nil
func StatusOf(latest *models.HealthLogEntry) Status {
	switch {
	case latest == nil:
		return StatusUnknown
	case latest.IsHealthy:
		return StatusHealthy
	default:
		return StatusUnhealthy
	}
}

// Summary aggregates the attempts recorded for one service within a window
type Summary struct {
	ServiceName       string     `json:"service_name"`
	TotalChecks       int        `json:"total_checks"`
	HealthyChecks     int        `json:"healthy_checks"`
	UptimePercentage  int        `json:"uptime_percentage"`
	AvgResponseTimeMs int        `json:"avg_response_time_ms"`
	LastCheck         *time.Time `json:"last_check"`
	CurrentStatus     Status     `json:"current_status"`
}

// FromAggregate turns a stored aggregate into a Summary. A nil aggregate or
// one with no checks in the window reports 100% uptime.
func FromAggregate(serviceName string, agg *models.HealthAggregate) Summary {
	s := Summary{ServiceName: serviceName, UptimePercentage: 100, CurrentStatus: StatusUnknown}
	if agg == nil {
		return s
	}

	s.TotalChecks = agg.TotalChecks
	s.HealthyChecks = agg.HealthyChecks
	s.AvgResponseTimeMs = agg.AvgResponseTimeMs
	s.LastCheck = agg.LastCheck
	if s.TotalChecks > 0 {
		s.UptimePercentage = int(math.Round(100 * float64(s.HealthyChecks) / float64(s.TotalChecks)))
	}

	switch {
	case agg.LatestHealthy == nil:
	case *agg.LatestHealthy:
		s.CurrentStatus = StatusHealthy
	default:
		s.CurrentStatus = StatusUnhealthy
	}

	return s
}
