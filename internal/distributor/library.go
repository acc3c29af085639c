package distributor

import (
	"context"
	"fmt"
	"time"

	"media-gallery/internal/database"
	"media-gallery/internal/stream"
)

// library is the shared base value every view is derived from.
type library struct {
	// all holds every cached item, visible only those not hidden by a
	// blacklist rule. Both are sorted by the view settings.
	all     []database.MediaItem
	visible []database.MediaItem

	settings database.ViewSettings
	pinned   map[int64]bool
	labels   map[int64]string
	hues     map[int64]database.HuePayload

	loading bool
	err     error
}

func (d *Distributor) loadLibrary(ctx context.Context) (library, error) {
	items, err := d.db.ListMedia(ctx)
	if err != nil {
		return library{}, fmt.Errorf("list media: %w", err)
	}
	settings, err := d.db.GetViewSettings(ctx)
	if err != nil {
		return library{}, fmt.Errorf("view settings: %w", err)
	}
	rules, err := d.db.ListBlacklist(ctx)
	if err != nil {
		return library{}, fmt.Errorf("blacklist: %w", err)
	}
	pinnedIDs, err := d.db.ListPinnedAlbums(ctx)
	if err != nil {
		return library{}, fmt.Errorf("pinned albums: %w", err)
	}
	classes, err := d.db.ClassificationIndex().All(ctx)
	if err != nil {
		return library{}, fmt.Errorf("classification index: %w", err)
	}
	hues, err := d.db.HueIndex().All(ctx)
	if err != nil {
		return library{}, fmt.Errorf("hue index: %w", err)
	}

	lib := library{
		settings: settings,
		pinned:   make(map[int64]bool, len(pinnedIDs)),
		labels:   make(map[int64]string, len(classes)),
		hues:     make(map[int64]database.HuePayload, len(hues)),
	}
	for _, id := range pinnedIDs {
		lib.pinned[id] = true
	}
	for _, rec := range classes {
		lib.labels[rec.ID] = rec.Payload.Label
	}
	for _, rec := range hues {
		lib.hues[rec.ID] = rec.Payload
	}

	sortItems(items, settings)
	lib.all = items
	lib.visible = make([]database.MediaItem, 0, len(items))
	for _, it := range items {
		if !blacklisted(rules, it) {
			lib.visible = append(lib.visible, it)
		}
	}
	return lib, nil
}

func blacklisted(rules []database.BlacklistRule, item database.MediaItem) bool {
	for _, r := range rules {
		if r.Matches(item) {
			return true
		}
	}
	return false
}

// indexVersions identifies the index table contents a library was loaded
// from.
type indexVersions struct {
	classification uint64
	hue            uint64
}

func (d *Distributor) indexVersions() indexVersions {
	return indexVersions{
		classification: d.db.ClassificationIndex().Changes().Get(),
		hue:            d.db.HueIndex().Changes().Get(),
	}
}

// computeLibrary reloads the library whenever one of its inputs changes.
// Media, settings and permission changes reload at once. Index jobs write
// one record at a time, so index changes are coalesced: the first one arms
// a timer of IndexWindow and the reload happens when it fires.
func (d *Distributor) computeLibrary(ctx context.Context, emit func(library)) {
	trigger := stream.Merge(ctx,
		d.db.Changes(database.TableMedia),
		d.db.Changes(database.TableSettings),
		d.permission,
	)
	indexes := stream.Merge(ctx,
		d.db.ClassificationIndex().Changes(),
		d.db.HueIndex().Changes(),
	)

	window := time.NewTimer(d.cfg.IndexWindow)
	window.Stop()
	defer window.Stop()
	armed := false

	var (
		last   library
		loaded indexVersions
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		case <-indexes:
			if armed || d.indexVersions() == loaded {
				continue
			}
			armed = true
			window.Reset(d.cfg.IndexWindow)
			continue
		case <-window.C:
			armed = false
		}
		if armed {
			window.Stop()
			armed = false
		}

		if !d.permission.Get() {
			emit(library{err: ErrPermissionDenied})
			continue
		}

		versions := d.indexVersions()
		lib, err := d.loadLibrary(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			// Stale-while-revalidate: keep the last good data
			stale := last
			stale.loading = false
			stale.err = err
			emit(stale)
			continue
		}
		last = lib
		loaded = versions
		emit(lib)
	}
}
