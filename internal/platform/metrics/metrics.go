// Package metrics holds the Prometheus metrics for the event pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	EventsAccepted    prometheus.Counter
	EventsRejected    *prometheus.CounterVec
	MessagesHandled   *prometheus.CounterVec
	MessagesDead      prometheus.Counter
	MessagesClaimed   prometheus.Counter
	HandlerDuration   *prometheus.HistogramVec
	RecordsAnonymized prometheus.Counter
	NotifyFailures    prometheus.Counter
	BreakerOpen       *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sante_events_accepted_total",
			Help: "Webhook events admitted to the stream",
		}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sante_events_rejected_total",
			Help: "Webhook events rejected before enqueue",
		}, []string{"reason"}),
		MessagesHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sante_messages_handled_total",
			Help: "Stream messages by event type and outcome",
		}, []string{"event_type", "outcome"}),
		MessagesDead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sante_messages_dead_lettered_total",
			Help: "Messages moved to the dead-letter stream",
		}),
		MessagesClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sante_messages_reclaimed_total",
			Help: "Idle pending messages reclaimed for redelivery",
		}),
		HandlerDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sante_handler_duration_seconds",
			Help:    "Handler execution time by event type",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		RecordsAnonymized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sante_records_anonymized_total",
			Help: "Identity records irreversibly anonymized",
		}),
		NotifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sante_notify_publish_failures_total",
			Help: "Notification publishes that exhausted their retries",
		}),
		BreakerOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sante_circuit_open",
			Help: "Whether a named circuit breaker is currently open",
		}, []string{"name"}),
	}
}

// Outcome labels for MessagesHandled.
const (
	OutcomeSuccess  = "success"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)
