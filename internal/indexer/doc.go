// Package indexer keeps the local media cache synchronized with the media
// source and schedules the index jobs that depend on it.
//
// A sync is version gated:
//  1. The source's version marker is read and compared with the stored one.
//  2. If they match the cache is up to date and nothing is written.
//  3. Otherwise the full snapshot is fetched and reconciled in a single
//     transaction that upserts changed items, deletes vanished ones, prunes
//     orphaned index records and stores the new marker.
//
// A failed fetch or reconcile leaves the stored marker untouched, so the next
// attempt starts over. Index jobs are enqueued only after a successful
// reconcile.
//
// Syncs run as the "media-sync" scheduler job and are requested from several
// places:
//   - startup
//   - a periodic timer (SYNC_INTERVAL)
//   - version polling (POLL_INTERVAL), which only reads markers
//   - the fsnotify watcher of the media directory
//   - timeline reads in the distributor
//   - the HTTP API
//
// Concurrent requests coalesce into the pending or running sync.
package indexer
