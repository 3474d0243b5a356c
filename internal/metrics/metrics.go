// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deeflow_transitions_total",
			Help: "Total number of attempted workflow transitions",
		},
		[]string{"action", "outcome"}, // outcome: success, invalid_transition, guard_failed
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deeflow_operation_duration_seconds",
			Help:    "Workflow engine operation latency in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"operation", "status"}, // status: ok, rejected, error
	)

	// Quality metrics
	QualityGateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deeflow_quality_gate_failures_total",
			Help: "Total number of failed quality gate checks",
		},
		[]string{"check"},
	)

	// Learning loop metrics
	PatternRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deeflow_pattern_record_failures_total",
			Help: "Total number of approval pattern observations that could not be recorded",
		},
	)

	ArtifactArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deeflow_artifact_archive_failures_total",
			Help: "Total number of execution logs that could not be archived",
		},
	)
)

// RecordTransition counts one transition attempt
func RecordTransition(action, outcome string) {
	TransitionsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveOperation records the latency of one engine operation
func ObserveOperation(operation, status string, started time.Time) {
	OperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// WriteTextfile dumps the default registry in the node_exporter textfile format
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
