package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorexec_executions_total",
			Help: "Total number of finished executions",
		},
		[]string{"language", "kind"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorexec_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language", "phase"}, // phase: "compile", "run"
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorexec_active_sessions",
			Help: "Number of sessions that have not reached a terminal state",
		},
	)

	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorexec_cleanup_failures_total",
			Help: "Total number of swallowed cleanup failures",
		},
		[]string{"resource"}, // resource: "process", "container", "workspace"
	)

	ExerciseCases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorexec_exercise_cases_total",
			Help: "Total number of graded exercise cases",
		},
		[]string{"language", "verdict"},
	)
)
