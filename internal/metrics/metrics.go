package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskRunsTotal tracks completed task invocations per task and outcome
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchkit_task_runs_total",
			Help: "Total number of completed task invocations",
		},
		[]string{"task", "status", "refresh"},
	)

	// TaskDuration tracks wall-clock duration of task pipelines
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetchkit_task_duration_seconds",
			Help:    "Task pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task", "status"},
	)

	// TaskRejectedTotal tracks runs dropped because the task was busy
	TaskRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchkit_task_rejected_total",
			Help: "Total number of task runs rejected by the reentrancy guard",
		},
		[]string{"task"},
	)

	// CacheLookupsTotal tracks content cache lookups by result
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchkit_cache_lookups_total",
			Help: "Total number of content cache lookups",
		},
		[]string{"backend", "result"},
	)

	// CacheRemovedTotal tracks entries removed from the content cache
	CacheRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchkit_cache_removed_total",
			Help: "Total number of content cache entries removed",
		},
		[]string{"backend", "reason"},
	)

	// InvalidationsTotal tracks published invalidation messages
	InvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchkit_invalidations_total",
			Help: "Total number of cache invalidation broadcasts",
		},
		[]string{"scope", "kind"},
	)

	// FetchRetriesTotal tracks retried network fetch attempts
	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchkit_fetch_retries_total",
			Help: "Total number of retried network fetch attempts",
		},
	)

	// DownloadLatency tracks network download latency
	DownloadLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetchkit_download_latency_seconds",
			Help:    "Network download latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "code"},
	)

	// DBConnectionPoolUsage tracks postgres pool usage in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchkit_db_connection_pool_usage",
			Help: "Percentage of the postgres connection pool in use",
		},
	)
)
