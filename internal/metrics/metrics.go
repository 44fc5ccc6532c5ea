package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_submissions_total",
			Help: "Total number of finished submissions by final status",
		},
		[]string{"mode", "language", "status"}, // mode: "debug", "judge"
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codesandbox_phase_duration_ms",
			Help:    "Pipeline phase duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language", "phase"}, // phase: "workspace", "compile", "run", "total"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codesandbox_queue_depth",
			Help: "Current number of submissions waiting for a worker",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codesandbox_active_workers",
			Help: "Number of workers currently running a submission pipeline",
		},
	)

	PeakMemory = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codesandbox_peak_memory_bytes",
			Help:    "Peak memory reported by the runner for accepted submissions",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 10), // 1MiB .. 512MiB
		},
		[]string{"language"},
	)

	EnvironmentEnsureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codesandbox_environment_ensure_ms",
			Help:    "Time to find, create or start a shared environment container",
			Buckets: []float64{5, 20, 50, 100, 200, 500, 1000, 5000, 30000},
		},
		[]string{"role"},
	)

	EnvironmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_environment_failures_total",
			Help: "Failed attempts to ensure a shared environment",
		},
		[]string{"role"},
	)

	RunnerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codesandbox_runner_failures_total",
			Help: "Runner invocations that did not produce a decodable batch",
		},
		[]string{"reason"}, // reason: "exit", "protocol", "timeout", "exec"
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codesandbox_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
