// Package distributor serves live, shareable views of the media cache.
//
// One library computation reads the cache, the settings tables and the
// classification and hue indexes. It reloads at once when the cache, the
// settings or the media permission flag change. Index writes are coalesced
// over Config.IndexWindow. Every view is derived from that library value,
// album views through the album list:
//
//   - Timeline: every visible, untrashed item
//   - Albums: the album list, pinned albums first
//   - Album(id): one album from the album list, one shared computation per id
//   - Favorites and Trash
//   - Search: items matching a hue and/or a fuzzy label query
//
// Views are multicast with replay-of-one: a late subscriber receives the last
// ViewState immediately. A view's computation stays alive for a grace period
// after its last subscriber leaves, so quick resubscription reuses it.
//
// Load failures keep the previous items and set ViewState.Error; the views
// never go blank because of a storage error.
package distributor
