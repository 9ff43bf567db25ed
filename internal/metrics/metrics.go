package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebox_executions_total",
			Help: "Total number of processed compilation requests",
		},
		[]string{"language", "status"}, // status: "success", "failure", "failed"
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codebox_execution_duration_ms",
			Help:    "Reported execution time in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"language"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codebox_queue_depth",
			Help: "Current number of requests waiting in the compilation queue",
		},
	)

	LiveProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codebox_live_sandbox_processes",
			Help: "Number of sandbox processes currently registered",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codebox_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
