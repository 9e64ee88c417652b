package metrics

import "context"

// Status is the overall health verdict: healthy, degraded (still serving,
// something needs attention), or unhealthy (not safe to serve).
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// poolUtilizationWarnThreshold is the "> 80% for > 10s" connection-pool
// warning trigger; callers are expected to debounce the ">10s" part
// themselves (Health is stateless, called on demand).
const poolUtilizationWarnThreshold = 0.8

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStatus is one circuit breaker's reported state, supplied by the
// caller (internal/enrich owns the actual breakers).
type BreakerStatus struct {
	Name  string
	State int // BreakerClosed | BreakerHalfOpen | BreakerOpen
}

// Health is the health check result.
type Health struct {
	Status            Status
	DatabaseReachable bool
	Breakers          []BreakerStatus
	PoolUtilization   float64
}

// Check assembles a Health report: the database must be reachable and no
// breaker may be open for Status to be healthy; pool utilization above the
// warn threshold degrades (but does not fail) the report.
func Check(ctx context.Context, db Pinger, breakers []BreakerStatus, poolUtilization float64) Health {
	h := Health{
		Status:          StatusHealthy,
		Breakers:        breakers,
		PoolUtilization: poolUtilization,
	}

	if err := db.Ping(ctx); err != nil {
		h.DatabaseReachable = false
		h.Status = StatusUnhealthy
		return h
	}
	h.DatabaseReachable = true

	for _, b := range breakers {
		if b.State == BreakerOpen {
			h.Status = StatusDegraded
		}
	}
	if poolUtilization > poolUtilizationWarnThreshold && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
	return h
}
