// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests by path, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// AssignmentsTotal counts assign messages sent, per worker class.
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_assignments_total",
			Help: "Total number of tasks assigned to workers.",
		},
		[]string{"class"},
	)

	// ResultsTotal counts matched results, per worker class.
	ResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_results_total",
			Help: "Total number of task results accepted by the coordinator.",
		},
		[]string{"class"},
	)

	// UnexpectedMessagesTotal counts messages that did not fit the coordinator state.
	UnexpectedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_unexpected_messages_total",
			Help: "Total number of ignored unexpected messages.",
		},
		[]string{"kind"},
	)

	// WorkersGoneTotal counts registered workers that disconnected.
	WorkersGoneTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_workers_gone_total",
			Help: "Total number of registered workers that went away.",
		},
		[]string{"class"},
	)

	// WorkersRejectedTotal counts registrations refused by a full pool.
	WorkersRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_workers_rejected_total",
			Help: "Total number of worker registrations rejected by the pool.",
		},
		[]string{"class"},
	)

	// RequeuedTasksTotal counts in-flight tasks put back after their worker went away.
	RequeuedTasksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fractal_requeued_tasks_total",
			Help: "Total number of in-flight tasks requeued after a worker disconnect.",
		},
	)

	// DecodeErrorsTotal counts wire and image decode failures.
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractal_decode_errors_total",
			Help: "Total number of messages or payloads that failed to decode.",
		},
		[]string{"source"},
	)

	// KernelCompilesTotal counts accelerated kernel (re)compilations.
	KernelCompilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fractal_kernel_compiles_total",
			Help: "Total number of accelerated kernel compilations.",
		},
	)

	// RenderSeconds observes worker render time per class.
	RenderSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fractal_render_seconds",
			Help:    "Time spent rendering and encoding one task.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"class"},
	)

	// PoolWorkers reports the pool bookkeeping per class and kind (registered, idle, in_flight, limit, max).
	PoolWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fractal_pool_workers",
			Help: "Worker pool bookkeeping per class.",
		},
		[]string{"class", "kind"},
	)

	// TasksCompleted reports the completion counter of the current run.
	TasksCompleted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fractal_tasks_completed",
			Help: "Number of tasks with a result in the current run.",
		},
	)
)
