package metrics

// Names of the jobs and views registered at startup. InitializeMetrics uses
// them to export every label combination from the first scrape.
var (
	JobNames  = []string{"media-sync", "metadata", "classification", "hue", "embedding"}
	ViewNames = []string{"library", "timeline", "albums", "album", "favorites", "trash", "search"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, job := range JobNames {
		for _, status := range []string{"succeeded", "failed", "cancelled"} {
			JobRunsTotal.WithLabelValues(job, status)
		}
		for _, policy := range []string{"keep", "replace", "append"} {
			SchedulerEnqueuedTotal.WithLabelValues(job, policy)
		}
		JobDuration.WithLabelValues(job)
		JobItemsProcessed.WithLabelValues(job)
		JobItemsFailed.WithLabelValues(job)
		JobProgress.WithLabelValues(job)
		SchedulerCoalescedTotal.WithLabelValues(job)
		SchedulerRunning.WithLabelValues(job)
	}

	for _, index := range []string{"metadata", "classification", "hue", "embedding"} {
		IndexRecords.WithLabelValues(index)
	}

	for _, result := range []string{"up_to_date", "synced", "failed"} {
		SyncRunsTotal.WithLabelValues(result)
	}
	for _, change := range []string{"inserted", "updated", "removed"} {
		SyncItemsChanged.WithLabelValues(change)
	}

	for _, view := range ViewNames {
		DistributorActiveComputations.WithLabelValues(view)
		DistributorSubscribers.WithLabelValues(view)
		DistributorRecomputes.WithLabelValues(view)
		DistributorComputeDuration.WithLabelValues(view)
	}

	for _, op := range []string{"stat", "open", "readdir"} {
		FilesystemRetryAttempts.WithLabelValues(op)
		FilesystemRetrySuccess.WithLabelValues(op)
		FilesystemRetryFailures.WithLabelValues(op)
		FilesystemStaleErrors.WithLabelValues(op)
	}

	for _, op := range []string{"initialize_schema", "reconcile", "list_media", "version_marker",
		"index_upsert", "index_prune", "index_timestamps", "index_all", "settings"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}
}
