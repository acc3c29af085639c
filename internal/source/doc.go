// Package source enumerates the external media library.
//
// A MediaSource exposes a cheap version token and a full snapshot read. The
// sync coordinator compares the token with the stored marker and only reads
// the snapshot when they differ.
//
// DirectorySource serves a mounted media directory. Item ids are derived from
// the relative path so they survive restarts; an item's timestamp is its
// modification time. Files under the top-level trash directory are reported
// as trashed, and names listed in a directory's .favorites file as favorites.
//
// Watcher turns filesystem events under the root into debounced change
// callbacks, typically wired to a sync request.
package source
