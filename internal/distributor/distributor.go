package distributor

import (
	"context"
	"time"

	"media-gallery/internal/database"
	"media-gallery/internal/metrics"
	"media-gallery/internal/stream"
)

const (
	// DefaultGrace is how long a view outlives its last subscriber.
	DefaultGrace = 5 * time.Second
	// DefaultIndexWindow is how long index table changes are coalesced
	// before the library reloads.
	DefaultIndexWindow = time.Second
)

// Config configures a Distributor.
type Config struct {
	Grouping Grouping
	Grace    time.Duration
	// Trigger is asked for a sync whenever the timeline is subscribed.
	Trigger SyncTrigger
	// Permission is the initial media permission flag.
	Permission bool
	// IndexWindow coalesces index table changes. Zero means DefaultIndexWindow.
	IndexWindow time.Duration
}

// Distributor owns the shared view computations. It only reads the
// database.
type Distributor struct {
	db  *database.Database
	cfg Config

	permission *stream.Value[bool]

	library   *stream.Shared[library]
	timeline  *stream.Shared[ViewState]
	albums    *stream.Shared[AlbumList]
	favorites *stream.Shared[ViewState]
	trash     *stream.Shared[ViewState]
	album     *stream.Keyed[int64, ViewState]
	search    *stream.Keyed[SearchParam, ViewState]
}

// New creates a distributor. No computation starts before the first
// subscription.
func New(db *database.Database, cfg Config) *Distributor {
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.IndexWindow <= 0 {
		cfg.IndexWindow = DefaultIndexWindow
	}
	if cfg.Grouping.Layout == "" {
		cfg.Grouping.Layout = DefaultGrouping().Layout
	}
	if cfg.Grouping.Location == nil {
		cfg.Grouping.Location = time.Local
	}

	d := &Distributor{
		db:         db,
		cfg:        cfg,
		permission: stream.NewValue(cfg.Permission),
	}

	loadingLib := library{loading: true}
	d.library = stream.NewShared(d.computeLibrary, d.options("library"))
	d.timeline = stream.NewShared(derive(d.library, "timeline", loadingLib, d.timelineState), d.options("timeline"))
	d.albums = stream.NewShared(derive(d.library, "albums", loadingLib, albumList), d.options("albums"))
	d.favorites = stream.NewShared(derive(d.library, "favorites", loadingLib, d.favoritesState), d.options("favorites"))
	d.trash = stream.NewShared(derive(d.library, "trash", loadingLib, d.trashState), d.options("trash"))
	// Album views read the album list, which already grouped items by album
	d.album = stream.NewKeyed(func(id int64) stream.ComputeFunc[ViewState] {
		return derive(d.albums, "album", AlbumList{IsLoading: true}, func(l AlbumList) ViewState { return d.albumState(id, l) })
	}, d.options("album"))
	d.search = stream.NewKeyed(func(p SearchParam) stream.ComputeFunc[ViewState] {
		return derive(d.library, "search", loadingLib, func(lib library) ViewState { return d.searchState(p, lib) })
	}, d.options("search"))

	return d
}

func (d *Distributor) options(name string) stream.Options {
	return stream.Options{Name: name, Grace: d.cfg.Grace}
}

// derive builds a computation that maps every value of src through fn.
// Until src has emitted once it emits fn(loading).
func derive[S, T any](src *stream.Shared[S], name string, loading S, fn func(S) T) stream.ComputeFunc[T] {
	return func(ctx context.Context, emit func(T)) {
		sub := src.Subscribe()
		defer sub.Close()

		if _, ok := src.Latest(); !ok {
			emit(fn(loading))
		}

		for {
			l, err := sub.Next(ctx)
			if err != nil {
				return
			}
			start := time.Now()
			v := fn(l)
			metrics.DistributorRecomputes.WithLabelValues(name).Inc()
			metrics.DistributorComputeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			emit(v)
		}
	}
}

// SetPermission turns media access on or off. While off every view reports
// ErrPermissionDenied with no items.
func (d *Distributor) SetPermission(granted bool) {
	if d.permission.Get() != granted {
		d.permission.Set(granted)
	}
}

// Permission returns the media permission flag.
func (d *Distributor) Permission() bool {
	return d.permission.Get()
}

// Timeline subscribes to every visible item and asks for a background sync.
func (d *Distributor) Timeline() *stream.Subscription[ViewState] {
	sub := d.timeline.Subscribe()
	if d.cfg.Trigger != nil {
		go d.cfg.Trigger.RequestSync()
	}
	return sub
}

// Albums subscribes to the album list.
func (d *Distributor) Albums() *stream.Subscription[AlbumList] {
	return d.albums.Subscribe()
}

// Album subscribes to the items of one album. Views are derived from the
// album list, one shared computation per album id.
func (d *Distributor) Album(id int64) *stream.Subscription[ViewState] {
	return d.album.Subscribe(id)
}

// Favorites subscribes to favorite items.
func (d *Distributor) Favorites() *stream.Subscription[ViewState] {
	return d.favorites.Subscribe()
}

// Trash subscribes to trashed items.
func (d *Distributor) Trash() *stream.Subscription[ViewState] {
	return d.trash.Subscribe()
}

// Search subscribes to the items matching p.
func (d *Distributor) Search(p SearchParam) *stream.Subscription[ViewState] {
	return d.search.Subscribe(p)
}

// Snapshot waits for the first settled value of sub: a value that is not
// loading, or ctx's end. sub is closed before returning.
func Snapshot[T any](ctx context.Context, sub *stream.Subscription[T], loading func(T) bool) (T, error) {
	defer sub.Close()
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			return v, err
		}
		if !loading(v) {
			return v, nil
		}
	}
}
