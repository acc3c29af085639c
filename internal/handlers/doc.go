// Package handlers provides the HTTP API of the media gallery.
//
// It includes handlers for:
//   - Views (timeline, albums, favorites, trash, search) as JSON snapshots or
//     server-sent event streams with ?watch=1
//   - Sync requests, reindexing and job cancellation
//   - Job status listing and per-job event streams
//   - Blacklist, pin, view and permission settings
//   - Health checks, version and Prometheus metrics
package handlers
