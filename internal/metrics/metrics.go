// Package metrics holds the Prometheus collectors shared by the engine,
// the CLI and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ObjectiveEvaluations counts objective function calls, finite-difference evaluations included.
	ObjectiveEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "axialfit_objective_evaluations_total",
		Help: "Total objective function evaluations",
	})

	// ObjectiveDuration tracks the wall time of one objective evaluation.
	ObjectiveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "axialfit_objective_duration_seconds",
		Help:    "Objective evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})

	// PlaneEvaluations counts per-plane cost evaluations by result.
	PlaneEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axialfit_plane_evaluations_total",
		Help: "Total per-plane cost evaluations by result",
	}, []string{"result"})

	// SolverRuns counts finished solver runs by final state.
	SolverRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axialfit_solver_runs_total",
		Help: "Total solver runs by final state",
	}, []string{"state"})

	// SolverIterations tracks iterations per solver run.
	SolverIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "axialfit_solver_iterations",
		Help:    "Accepted iterations per solver run",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500},
	})

	// DiagnosticErrors counts diagnostic stream failures by kind.
	DiagnosticErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axialfit_diagnostic_errors_total",
		Help: "Total diagnostic stream parse or alignment failures",
	}, []string{"kind"})

	// ActiveWorkers reports worker goroutines alive across all pools.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "axialfit_pool_workers",
		Help: "Worker goroutines currently alive",
	})

	// Jobs counts server jobs by final state.
	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axialfit_jobs_total",
		Help: "Total optimization jobs by final state",
	}, []string{"state"})

	// JobFailures splits failed jobs by cause.
	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axialfit_job_failures_total",
		Help: "Failed optimization jobs by error kind",
	}, []string{"kind"})
)
