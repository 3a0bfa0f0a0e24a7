package subsync

import "time"

// Metrics defines the interface for tracking engine operations.
type Metrics interface {
	// RecordEventApplied records a reconciled event.
	// outcome: "applied" or "stale"
	RecordEventApplied(status, outcome string)

	// RecordPlanChange records an effective plan flip.
	RecordPlanChange(fromPlan, toPlan string)

	// RecordQuotaDecision records an invoice-quota check.
	RecordQuotaDecision(plan string, allowed bool)

	// RecordStoreOpDuration records the latency of a store operation.
	RecordStoreOpDuration(op string, duration time.Duration)

	// RecordStoreOpError records a store operation failure.
	RecordStoreOpError(op string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEventApplied(_, _ string)                  {}
func (n *NoopMetrics) RecordPlanChange(_, _ string)                    {}
func (n *NoopMetrics) RecordQuotaDecision(_ string, _ bool)            {}
func (n *NoopMetrics) RecordStoreOpDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordStoreOpError(_ string)                     {}
