package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts rule executions by rule name and outcome
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_rule_executions_total",
			Help: "Total number of rule executions",
		},
		[]string{"rule", "status"},
	)

	// ExecutionDuration measures time to execute one rule
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_rule_execution_duration_seconds",
			Help:    "Rule execution latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05},
		},
		[]string{"rule"},
	)

	// EvaluationErrors counts captured per-call evaluation failures
	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_evaluation_errors_total",
			Help: "Total number of captured evaluation errors",
		},
		[]string{"rule"},
	)

	// DocumentSwaps counts active rule-document swaps
	DocumentSwaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_document_swaps_total",
			Help: "Total number of rule document hot swaps",
		},
	)
)
