package metrics

import (
	"time"

	"github.com/dripgate/dripgate/internal/observability"
)

// Claim pipeline metrics following Prometheus conventions
var (
	ClaimsTotal      = "dripgate_claims_total"
	RejectionsTotal  = "dripgate_rejections_total"
	FailoversTotal   = "dripgate_failovers_total"
	UpstreamDuration = "dripgate_upstream_duration_ms"
	AuditFailures    = "dripgate_audit_failures_total"

	// Ledger gauges published by the reporter
	LedgerTotalClaims      = "dripgate_ledger_total_claims"
	LedgerSuccessfulClaims = "dripgate_ledger_successful_claims"
	LedgerFailedClaims     = "dripgate_ledger_failed_claims"
	LedgerCredentialUsage  = "dripgate_ledger_credential_usage"
	PoolBalanced           = "dripgate_pool_balanced"
	PoolSize               = "dripgate_pool_size"

	// Live stats connections
	ActiveConnections = "dripgate_live_connections"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordClaim records a dispatched claim with its outcome
func RecordClaim(mode, network, outcome string) {
	count(ClaimsTotal, map[string]string{
		"mode":    mode,
		"network": network,
		"outcome": outcome,
	})
}

// RecordRejection records a claim that ended before dispatch
func RecordRejection(reason string) {
	count(RejectionsTotal, map[string]string{"reason": reason})
}

// RecordFailover records a rotation past a credential
func RecordFailover(credential string, cause string) {
	count(FailoversTotal, map[string]string{
		"credential": credential,
		"cause":      cause,
	})
}

// RecordUpstream records one upstream call duration
func RecordUpstream(kind string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			UpstreamDuration,
			duration,
			map[string]string{"kind": kind},
		)
	}
}

// RecordAuditFailure records a sink that failed to accept an event
func RecordAuditFailure(sink string) {
	count(AuditFailures, map[string]string{"sink": sink})
}

// LedgerGauges is the subset of ledger state exported as gauges.
type LedgerGauges struct {
	Total           int64
	Successful      int64
	Failed          int64
	CredentialUsage map[string]int64
	Balanced        bool
	PoolSize        int
}

// SetLedgerGauges publishes the current ledger state
func SetLedgerGauges(g LedgerGauges) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(LedgerTotalClaims, float64(g.Total), nil)
	_ = observability.TelemetrySystem.Gauge(LedgerSuccessfulClaims, float64(g.Successful), nil)
	_ = observability.TelemetrySystem.Gauge(LedgerFailedClaims, float64(g.Failed), nil)
	for key, used := range g.CredentialUsage {
		_ = observability.TelemetrySystem.Gauge(LedgerCredentialUsage, float64(used), map[string]string{"credential": key})
	}
	balanced := 0.0
	if g.Balanced {
		balanced = 1
	}
	_ = observability.TelemetrySystem.Gauge(PoolBalanced, balanced, nil)
	_ = observability.TelemetrySystem.Gauge(PoolSize, float64(g.PoolSize), nil)
}

// SetActiveConnections sets the current number of live stats subscribers
func SetActiveConnections(n int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ActiveConnections,
			float64(n),
			nil,
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
