package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal tracks jobs by type and terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytarchive_jobs_total",
			Help: "Total number of jobs by terminal status",
		},
		[]string{"type", "status"},
	)

	// ItemsTotal tracks processed items by outcome
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytarchive_items_total",
			Help: "Total number of processed job items",
		},
		[]string{"outcome"},
	)

	// RetryAttemptsTotal tracks retry attempts by operation and reason
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytarchive_retry_attempts_total",
			Help: "Total number of failed attempts entering the retry path",
		},
		[]string{"operation", "reason"},
	)

	// RecoveriesActive tracks in-flight recovery operations
	RecoveriesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ytarchive_recoveries_active",
			Help: "Number of in-flight recovery operations",
		},
	)

	// ErrorReportsTotal tracks durable error reports written
	ErrorReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytarchive_error_reports_total",
			Help: "Total number of error reports written",
		},
		[]string{"reason"},
	)

	// CircuitState tracks breaker state per resource (0=closed, 1=half-open, 2=open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ytarchive_circuit_state",
			Help: "Circuit breaker state per resource (0=closed, 1=half-open, 2=open)",
		},
		[]string{"resource"},
	)

	// AttemptLatency tracks downstream call latency per operation
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ytarchive_attempt_latency_seconds",
			Help:    "Latency of downstream call attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
