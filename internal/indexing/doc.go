// Package indexing implements the incremental index jobs that derive
// per-item records (metadata, classification, hue, embedding) from the media
// cache.
//
// Every job follows the same pattern:
//
//  1. Candidates are the cached items without a record for their current
//     timestamp. A forced run, where the job allows it, takes every item.
//  2. Candidates are processed one at a time in ascending id order. Each item
//     goes through the job's oracle; failures are isolated to that item and
//     logged as an [ItemError].
//  3. Cancellation is checked before every item. A cancelled run stops
//     immediately, keeps what it has written and skips cleanup.
//  4. A completed run deletes records whose id is no longer cached.
//
// Progress is reported as floor(done/total*100) through a progress.Throttler,
// so it starts at 0, never decreases and ends at 100.
package indexing
