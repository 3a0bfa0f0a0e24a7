// Package promwebhook provides a Prometheus implementation of the
// billing.Metrics interface.
package promwebhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of webhook deliveries by outcome.",
		}, []string{"provider", "event_type", "status"}),

		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_processing_duration_seconds",
			Help:      "Latency of webhook delivery processing.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"provider", "error_type"}),
	}
}

// DefaultMetrics creates metrics registered on the default registry.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordWebhookEvent(provider, eventType, status string) {
	m.eventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration) {
	m.processingDuration.WithLabelValues(provider, eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(provider, errorType string) {
	m.errorsTotal.WithLabelValues(provider, errorType).Inc()
}
