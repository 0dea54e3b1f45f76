// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay"

var (
	// PipelineOutcomes counts ProcessNext outcomes by scope and reason.
	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"scope", "reason"},
	)

	// PipelineDuration measures pipeline runs that reached the download step.
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"reason"},
	)

	// ClaimsTotal counts claim attempts on unmapped items.
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Total number of claim attempts on unmapped items",
		},
		[]string{"result"},
	)

	// TicksTotal counts trigger loop ticks.
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of trigger loop ticks",
		},
		[]string{"status"},
	)

	// JobsDispatched counts jobs handed to the pipeline by the trigger loop.
	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of slot jobs dispatched",
		},
		[]string{"scope"},
	)

	// PublishTotal counts delayed publish attempts.
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Total number of delayed visibility transitions",
		},
		[]string{"status"},
	)

	// CleanupTotal counts cleanup decisions.
	CleanupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_total",
			Help:      "Total number of cleanup candidates by decision",
		},
		[]string{"decision"},
	)

	// IngestedTotal counts items created by ingestion.
	IngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_total",
			Help:      "Total number of ingested items",
		},
		[]string{"scope"},
	)

	// ErrorsTotal counts errors by operation.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation"},
	)

	// RunLockHeld reports whether this process holds the run lock.
	RunLockHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_lock_held",
			Help:      "Run lock status (1 = held by this process, 0 = free)",
		},
	)
)

// RecordOutcome records a pipeline outcome.
func RecordOutcome(scope, reason string) {
	PipelineOutcomes.WithLabelValues(scope, reason).Inc()
}

// RecordPipelineDuration records how long a pipeline run took.
func RecordPipelineDuration(reason string, seconds float64) {
	PipelineDuration.WithLabelValues(reason).Observe(seconds)
}

// RecordClaim records a claim attempt.
func RecordClaim(won bool) {
	if won {
		ClaimsTotal.WithLabelValues("won").Inc()
		return
	}
	ClaimsTotal.WithLabelValues("lost").Inc()
}

// RecordError records an error.
func RecordError(operation string) {
	ErrorsTotal.WithLabelValues(operation).Inc()
}

// SetRunLockHeld sets the run lock gauge.
func SetRunLockHeld(held bool) {
	if held {
		RunLockHeld.Set(1)
		return
	}
	RunLockHeld.Set(0)
}
