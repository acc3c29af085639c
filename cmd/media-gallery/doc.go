// Package main provides the entry point for the Media Gallery application.
//
// Media Gallery mirrors a media library into a local SQLite cache, derives
// per-item indexes (metadata, classification, hue, embeddings) in background
// jobs, and serves live views of the library over HTTP.
//
// # Commands
//
//	media-gallery [serve]          Run the HTTP server (default)
//	media-gallery sync             Sync once, wait for index jobs, exit
//	media-gallery reindex <job>    Run one index job; --force recomputes all
//	media-gallery stats            Print cache and index row counts
//	media-gallery version          Print build information
//
// Every command takes the database lock, so offline commands refuse to run
// while a server uses the same database.
//
// # Application Lifecycle
//
//  1. Configuration Loading: environment variables and CONFIG_FILE via viper
//  2. Memory Configuration: GOMEMLIMIT from MEMORY_LIMIT when set
//  3. Process Lock: a file lock next to the database
//  4. Database Initialization: SQLite cache, index tables and settings
//  5. Component Initialization:
//     - Directory Source: reads the library and its version marker
//     - Oracles: local metadata and hue, remote classifier and embedder
//     - Scheduler: runs sync and index jobs with memory and storage constraints
//     - Indexer: reconciles the cache and schedules index jobs
//     - Distributor: shared, lazily computed views
//  6. HTTP Server Setup: routes, metrics and logging middleware
//  7. Graceful Shutdown: SIGINT/SIGTERM stops triggers, cancels jobs, closes
//     event streams and drains the HTTP server (30s timeout)
//
// # Background Services
//
//   - Indexer: polls the version marker and syncs periodically
//   - File Watcher: requests a sync after changes settle (WATCH_ENABLED)
//   - Memory Monitor: holds index jobs while heap usage is critical
//   - Metrics Collector: updates row count gauges every minute
//
// # Build Requirements
//
// CGO is required for SQLite and libvips.
//
//	go build -o media-gallery ./cmd/media-gallery
//
// # Related Packages
//
//   - [media-gallery/internal/database]: SQLite cache, indexes and settings
//   - [media-gallery/internal/distributor]: Shared view computations
//   - [media-gallery/internal/handlers]: HTTP request handlers
//   - [media-gallery/internal/indexer]: Sync coordination
//   - [media-gallery/internal/indexing]: Generic index jobs
//   - [media-gallery/internal/scheduler]: Job scheduling and observation
//   - [media-gallery/internal/startup]: Configuration and initialization
package main
