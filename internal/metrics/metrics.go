package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"result"},
	)

	DBRowsAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_db_rows_affected_total",
			Help: "Rows written or deleted by operation",
		},
		[]string{"operation"},
	)
)

// Sync metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_sync_runs_total",
			Help: "Total number of sync passes by result (up_to_date, synced, failed)",
		},
		[]string{"result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_gallery_sync_duration_seconds",
			Help:    "Duration of sync passes that fetched a snapshot",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	SyncLastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_sync_last_success_timestamp",
			Help: "Timestamp of the last successful sync pass",
		},
	)

	SyncItemsChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_sync_items_changed_total",
			Help: "Media rows changed by reconciliation (inserted, updated, removed)",
		},
		[]string{"change"},
	)

	SyncPollChecksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_gallery_sync_poll_checks_total",
			Help: "Total number of version polls against the media source",
		},
	)

	SyncPollChangesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_gallery_sync_poll_changes_detected_total",
			Help: "Version polls that found a new source version",
		},
	)

	CacheItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_cache_items",
			Help: "Number of media items in the local cache",
		},
	)

	IndexRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_gallery_index_records",
			Help: "Number of records per derived index",
		},
		[]string{"index"},
	)
)

// Index job metrics
var (
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_job_runs_total",
			Help: "Job executions by job name and terminal status",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 3600},
		},
		[]string{"job"},
	)

	JobItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_job_items_processed_total",
			Help: "Items successfully indexed by job",
		},
		[]string{"job"},
	)

	JobItemsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_job_items_failed_total",
			Help: "Items whose oracle call failed, by job",
		},
		[]string{"job"},
	)

	JobProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_gallery_job_progress_percent",
			Help: "Last delivered progress of the running execution, by job",
		},
		[]string{"job"},
	)
)

// Scheduler metrics
var (
	SchedulerEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_scheduler_enqueued_total",
			Help: "Enqueue requests by job and policy",
		},
		[]string{"job", "policy"},
	)

	SchedulerCoalescedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_scheduler_coalesced_total",
			Help: "Enqueue requests coalesced into an existing execution",
		},
		[]string{"job"},
	)

	SchedulerRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_gallery_scheduler_running",
			Help: "Running executions by job",
		},
		[]string{"job"},
	)

	SchedulerConstraintWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_scheduler_constraint_waits_total",
			Help: "Start attempts delayed by an unmet constraint",
		},
		[]string{"constraint"},
	)
)

// Distributor metrics
var (
	DistributorActiveComputations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_gallery_distributor_active_computations",
			Help: "Upstream view computations currently running, by view",
		},
		[]string{"view"},
	)

	DistributorSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_gallery_distributor_subscribers",
			Help: "Current view subscribers, by view",
		},
		[]string{"view"},
	)

	DistributorRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_distributor_recomputes_total",
			Help: "View recomputations, by view",
		},
		[]string{"view"},
	)

	DistributorComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_gallery_distributor_compute_duration_seconds",
			Help:    "View computation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"view"},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_retry_attempts_total",
			Help: "Retries after a stale NFS file handle",
		},
		[]string{"operation"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_gallery_filesystem_stale_errors_total",
			Help: "Stale NFS file handle errors observed",
		},
		[]string{"operation"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_gallery_memory_paused",
			Help: "Whether job starts are held back by memory pressure (1 = held)",
		},
	)
)
