package metrics

import (
	"github.com/subtrack/subtrack/internal/observability"
)

// Rate limit metrics
const (
	RateLimitDecisionsTotal     = "rate_limit_decisions_total"
	RateLimitStoreFailuresTotal = "rate_limit_store_failures_total"
	RateLimitCleanupRemoved     = "rate_limit_cleanup_last_removed"
)

// RecordRateLimitDecision records an allow/reject outcome for a policy.
// Degraded decisions are those made while the store was unavailable.
func RecordRateLimitDecision(policy string, allowed bool, degraded bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	mode := "enforced"
	if degraded {
		mode = "degraded"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDecisionsTotal,
			1,
			map[string]string{
				"policy":  policy,
				"outcome": outcome,
				"mode":    mode,
			},
		)
	}
}

// RecordRateLimitStoreFailure records a swallowed store error.
func RecordRateLimitStoreFailure(policy string, operation string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitStoreFailuresTotal,
			1,
			map[string]string{
				"policy":    policy,
				"operation": operation,
			},
		)
	}
}

// RecordRateLimitCleanup sets the number of records removed by the last sweep.
func RecordRateLimitCleanup(removed int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			RateLimitCleanupRemoved,
			float64(removed),
			nil,
		)
	}
}
