package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed tracks terminal job outcomes
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_jobs_processed_total",
			Help: "Total number of jobs that reached a terminal outcome",
		},
		[]string{"status", "priority"},
	)

	// JobDuration tracks wall time from dequeue to terminal outcome
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobrunner_job_duration_seconds",
			Help:    "Job processing time in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// AttemptFailures tracks failed attempts by classified category
	AttemptFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_attempt_failures_total",
			Help: "Total number of failed execution attempts",
		},
		[]string{"operation", "category"},
	)

	// RecoveryActions tracks dispatcher decisions
	RecoveryActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_recovery_actions_total",
			Help: "Total number of recovery decisions",
		},
		[]string{"action", "category"},
	)

	// CleanupResources tracks rollback deletions
	CleanupResources = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_cleanup_resources_total",
			Help: "Total number of resources handled during rollback",
		},
		[]string{"kind", "result"},
	)

	// QueueDepth tracks queued jobs per priority tier
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobrunner_queue_depth",
			Help: "Number of queued jobs per priority",
		},
		[]string{"priority"},
	)

	// QueueEvictions tracks jobs dropped by admission control
	QueueEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_queue_evictions_total",
			Help: "Total number of queued jobs evicted at capacity",
		},
		[]string{"priority"},
	)

	// WorkersRunning tracks the current pool size
	WorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobrunner_workers_running",
			Help: "Number of running workers",
		},
	)

	// PoolResizes tracks adaptive scaling steps
	PoolResizes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_pool_resizes_total",
			Help: "Total number of worker pool resizes",
		},
		[]string{"direction"},
	)

	// CircuitState tracks breaker state per operation (0 closed, 1 half-open, 2 open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobrunner_circuit_breaker_state",
			Help: "Circuit breaker state per operation",
		},
		[]string{"operation"},
	)

	// LocksHeld tracks live job locks
	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobrunner_locks_held",
			Help: "Number of live job locks",
		},
	)

	// LockAcquisitions tracks lock gate results
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_lock_acquisitions_total",
			Help: "Total number of job lock acquisition attempts",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage tracks open connections as a share of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobrunner_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the maximum",
		},
	)
)
