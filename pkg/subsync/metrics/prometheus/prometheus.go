package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements subsync.Metrics using Prometheus.
type Metrics struct {
	eventsAppliedTotal *prometheus.CounterVec
	planChangesTotal   *prometheus.CounterVec
	quotaDecisions     *prometheus.CounterVec
	storeOpsDuration   *prometheus.HistogramVec
	storeOpsErrors     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_events_total",
			Help:      "Total number of reconciled subscription events.",
		}, []string{"status", "outcome"}),

		planChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_changes_total",
			Help:      "Total number of effective plan changes.",
		}, []string{"from", "to"}),

		quotaDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_quota_decisions_total",
			Help:      "Total number of invoice quota checks.",
		}, []string{"plan", "allowed"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of reconciliation store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of reconciliation store errors.",
		}, []string{"operation"}),
	}
}

// DefaultMetrics creates metrics registered on the default registry.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordEventApplied(status, outcome string) {
	m.eventsAppliedTotal.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) RecordPlanChange(fromPlan, toPlan string) {
	m.planChangesTotal.WithLabelValues(fromPlan, toPlan).Inc()
}

func (m *Metrics) RecordQuotaDecision(plan string, allowed bool) {
	m.quotaDecisions.WithLabelValues(plan, strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) RecordStoreOpDuration(op string, duration time.Duration) {
	m.storeOpsDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) RecordStoreOpError(op string) {
	m.storeOpsErrors.WithLabelValues(op).Inc()
}
