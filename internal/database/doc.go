// Package database provides the SQLite storage for the media gallery.
//
// It holds:
//   - the media table, a local mirror of the media source
//   - the singleton version marker of the last successful sync
//   - one index table per derived index (metadata, classification, hue, embedding)
//   - blacklist rules, pinned albums and view settings
//
// Reconcile applies a full source snapshot in a single transaction: readers
// see either the old id-set or the new one, never a partially pruned mix.
// Every committed write bumps a per-table change counter (Changes) that the
// distributor uses to recompute live views.
//
// The database uses WAL mode so readers are not blocked by the writer.
package database
