// Package metrics provides Prometheus metrics for the health service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "health"
)

// Ingestion metrics
var (
	// KafkaMessagesTotal counts consumed stream messages by outcome.
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total stream messages consumed",
		},
		[]string{"result"},
	)

	// KafkaCommitErrorsTotal counts failed checkpoint commits.
	KafkaCommitErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "commit_errors_total",
			Help:      "Total failed offset commits",
		},
	)

	// AlertsReceivedTotal counts alerts handed to the pipeline by result.
	AlertsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_total",
			Help:      "Total alerts handled by the pipeline",
		},
		[]string{"result"},
	)
)

// Engine metrics
var (
	// TransitionsTotal counts transitions processed by the engine by result.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Total state transitions processed",
		},
		[]string{"result"},
	)

	// StateChangesTotal counts effective state changes by node kind and new state.
	StateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "state_changes_total",
			Help:      "Total effective state changes",
		},
		[]string{"kind", "state"},
	)

	// EnvironmentWorkers tracks running environment workers.
	EnvironmentWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "environment_workers",
			Help:      "Number of running environment workers",
		},
	)

	// EscalationsTotal counts synthesized escalation transitions.
	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "escalations_total",
			Help:      "Total escalations applied",
		},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts notifications by channel and status.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "sent_total",
			Help:      "Total notifications by channel and status",
		},
		[]string{"channel", "status"},
	)

	// NotificationsSuppressedTotal counts notifications suppressed by debounce.
	NotificationsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "suppressed_total",
			Help:      "Total notifications suppressed by the rule interval",
		},
	)

	// QueueDroppedTotal counts events dropped because a queue was full.
	QueueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Total events dropped on full queues",
		},
		[]string{"queue"},
	)
)

// SLA metrics
var (
	// SLAComputationsTotal counts SLA computations by source.
	SLAComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "computations_total",
			Help:      "Total SLA computations by source (history or cache)",
		},
		[]string{"source"},
	)
)
