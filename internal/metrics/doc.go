// Package metrics provides Prometheus instrumentation for the media gallery.
//
// All metrics are prefixed with "media_gallery_" and registered through
// promauto at package initialization. They are grouped as:
//
//   - HTTP: request counts, durations, in-flight requests
//   - Database: query counts and durations, transaction durations, rows affected
//   - Sync: runs by result, duration, changed rows, version polls, cache size
//   - Jobs: runs by terminal status, processed and failed items, progress
//   - Scheduler: enqueue policy counts, coalesced requests, constraint waits
//   - Distributor: active view computations, subscribers, recomputes
//   - Filesystem and memory: NFS retry counters, memory pressure
//
// Collector refreshes the cache and index gauges from a StatsProvider on an
// interval. InitializeMetrics pre-populates label combinations.
package metrics
