package distributor

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"media-gallery/internal/database"
	"media-gallery/internal/metrics"
	"media-gallery/internal/stream"
)

const waitTimeout = 5 * time.Second

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ms returns unix milliseconds for a UTC date.
func ms(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC).UnixMilli()
}

func media(id int64, ts int64, album int64) database.MediaItem {
	return database.MediaItem{
		ID:         id,
		Timestamp:  ts,
		AlbumID:    album,
		AlbumLabel: map[int64]string{1: "Camera", 2: "Screenshots", 3: "Private"}[album],
		Name:       "img.jpg",
		MimeType:   "image/jpeg",
	}
}

func seed(t *testing.T, db *database.Database, items ...database.MediaItem) {
	t.Helper()
	if _, err := db.Reconcile(context.Background(), database.VersionMarker(time.Now().String()), items); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
}

func newDistributor(t *testing.T, db *database.Database, grace time.Duration, trigger SyncTrigger) *Distributor {
	t.Helper()
	return New(db, Config{
		Grouping:   Grouping{Layout: "2006-01", Location: time.UTC},
		Grace:      grace,
		Trigger:    trigger,
		Permission: true,
	})
}

func waitFor[T any](t *testing.T, sub *stream.Subscription[T], pred func(T) bool) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Timed out waiting for state: %v", err)
		}
		if pred(v) {
			return v
		}
	}
}

func loaded(v ViewState) bool { return !v.IsLoading }

func itemIDs(items []database.MediaItem) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func sameIDs(t *testing.T, got []database.MediaItem, want ...int64) {
	t.Helper()
	ids := itemIDs(got)
	if len(ids) != len(want) {
		t.Fatalf("Expected ids %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Expected ids %v, got %v", want, ids)
		}
	}
}

type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) RequestSync() { c.calls.Add(1) }

func TestTimelineSortedAndGrouped(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db,
		media(1, ms(2024, 1, 5), 1),
		media(2, ms(2024, 1, 5), 1),
		media(3, ms(2024, 3, 1), 2),
		media(4, ms(2023, 12, 31), 1),
	)
	d := newDistributor(t, db, time.Minute, nil)

	sub := d.Timeline()
	defer sub.Close()
	st := waitFor(t, sub, loaded)

	// Equal timestamps tie-break by id descending
	sameIDs(t, st.Items, 3, 2, 1, 4)
	want := []Header{{"2024-03", 0, 1}, {"2024-01", 1, 2}, {"2023-12", 3, 1}}
	if len(st.Headers) != len(want) {
		t.Fatalf("Expected headers %v, got %v", want, st.Headers)
	}
	for i := range want {
		if st.Headers[i] != want[i] {
			t.Errorf("Header %d: expected %+v, got %+v", i, want[i], st.Headers[i])
		}
	}
	if st.Error != nil {
		t.Errorf("Unexpected error %v", st.Error)
	}

	settings := database.DefaultViewSettings()
	settings.Descending = false
	if err := db.SetViewSettings(context.Background(), settings); err != nil {
		t.Fatalf("SetViewSettings failed: %v", err)
	}
	st = waitFor(t, sub, func(v ViewState) bool { return len(v.Items) == 4 && v.Items[0].ID == 4 })
	// Ascending by timestamp keeps the id descending tie-break
	sameIDs(t, st.Items, 4, 2, 1, 3)
}

func TestTimelineReplayWithoutRecompute(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1))
	d := newDistributor(t, db, time.Minute, nil)

	first := d.Timeline()
	defer first.Close()
	waitFor(t, first, loaded)

	second := d.Timeline()
	defer second.Close()
	select {
	case st := <-second.C():
		sameIDs(t, st.Items, 1)
	default:
		t.Fatal("Expected the last state to be replayed synchronously")
	}

	if d.timeline.Starts() != 1 || d.library.Starts() != 1 {
		t.Errorf("Expected one computation, got timeline=%d library=%d",
			d.timeline.Starts(), d.library.Starts())
	}
}

func TestResubscribeWithinGraceSharesComputation(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1))
	d := newDistributor(t, db, time.Minute, nil)

	a := d.Timeline()
	waitFor(t, a, loaded)
	a.Close()
	if d.timeline.State() != stream.GracePeriod {
		t.Fatalf("Expected grace period, got %s", d.timeline.State())
	}

	b := d.Timeline()
	defer b.Close()
	waitFor(t, b, loaded)

	if d.timeline.Starts() != 1 || d.library.Starts() != 1 {
		t.Errorf("Expected exactly one computation, got timeline=%d library=%d",
			d.timeline.Starts(), d.library.Starts())
	}
}

func TestTeardownAfterGrace(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1))
	d := newDistributor(t, db, 20*time.Millisecond, nil)

	a := d.Timeline()
	waitFor(t, a, loaded)
	a.Close()

	deadline := time.Now().Add(waitTimeout)
	for d.timeline.State() != stream.Idle || d.library.State() != stream.Idle {
		if time.Now().After(deadline) {
			t.Fatal("Views never went idle")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b := d.Timeline()
	defer b.Close()
	select {
	case st := <-b.C():
		sameIDs(t, st.Items, 1)
	default:
		t.Fatal("Expected last state to survive teardown")
	}
	if d.timeline.Starts() != 2 {
		t.Errorf("Expected restart after teardown, got %d starts", d.timeline.Starts())
	}
}

func TestTimelineRequestsSync(t *testing.T) {
	db := setupTestDB(t)
	trigger := &countingTrigger{}
	d := newDistributor(t, db, time.Minute, trigger)

	sub := d.Timeline()
	defer sub.Close()
	waitFor(t, sub, loaded)

	deadline := time.Now().Add(waitTimeout)
	for trigger.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected timeline read to request a sync")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fav := d.Favorites()
	defer fav.Close()
	waitFor(t, fav, loaded)
	if trigger.calls.Load() != 1 {
		t.Errorf("Expected only the timeline to request syncs, got %d", trigger.calls.Load())
	}
}

func TestLiveUpdate(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1))
	d := newDistributor(t, db, time.Minute, nil)

	sub := d.Timeline()
	defer sub.Close()
	waitFor(t, sub, loaded)

	seed(t, db, media(1, ms(2024, 1, 1), 1), media(2, ms(2024, 2, 1), 1))
	st := waitFor(t, sub, func(v ViewState) bool { return len(v.Items) == 2 })
	sameIDs(t, st.Items, 2, 1)
}

func TestAlbumViewsDerivedFromAlbumList(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db,
		media(1, ms(2024, 1, 1), 1),
		media(2, ms(2024, 2, 1), 2),
		media(3, ms(2024, 3, 1), 1),
	)
	d := newDistributor(t, db, time.Minute, nil)

	camera := d.Album(1)
	defer camera.Close()
	shots := d.Album(2)
	defer shots.Close()
	again := d.Album(1)
	defer again.Close()

	sameIDs(t, waitFor(t, camera, loaded).Items, 3, 1)
	sameIDs(t, waitFor(t, shots, loaded).Items, 2)
	waitFor(t, again, loaded)

	if d.album.Len() != 2 {
		t.Errorf("Expected one computation per album id, got %d", d.album.Len())
	}
	if d.albums.Starts() != 1 {
		t.Errorf("Expected album views to share the album list, got %d starts", d.albums.Starts())
	}
	if d.library.Starts() != 1 {
		t.Errorf("Expected one library computation, got %d starts", d.library.Starts())
	}

	missing := d.Album(99)
	defer missing.Close()
	if st := waitFor(t, missing, loaded); len(st.Items) != 0 {
		t.Errorf("Expected no items for an unknown album, got %v", itemIDs(st.Items))
	}
}

func TestAlbumList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seed(t, db,
		media(1, ms(2024, 1, 1), 1),
		media(2, ms(2024, 5, 1), 2),
		media(3, ms(2024, 3, 1), 1),
		media(4, ms(2024, 2, 1), 3),
	)
	if err := db.PinAlbum(ctx, 3); err != nil {
		t.Fatalf("PinAlbum failed: %v", err)
	}
	d := newDistributor(t, db, time.Minute, nil)

	sub := d.Albums()
	defer sub.Close()
	list := waitFor(t, sub, func(l AlbumList) bool { return !l.IsLoading })

	if len(list.Albums) != 3 {
		t.Fatalf("Expected 3 albums, got %+v", list.Albums)
	}
	order := []int64{list.Albums[0].ID, list.Albums[1].ID, list.Albums[2].ID}
	if order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("Expected pinned album first then newest, got %v", order)
	}
	if !list.Albums[0].Pinned || list.Albums[2].Count != 2 {
		t.Errorf("Unexpected album summary %+v", list.Albums)
	}
	if list.Albums[2].Cover.ID != 3 {
		t.Errorf("Expected newest item as cover, got %d", list.Albums[2].Cover.ID)
	}
}

func TestFavoritesAndTrash(t *testing.T) {
	db := setupTestDB(t)
	fav := media(1, ms(2024, 1, 1), 1)
	fav.Favorite = true
	trashed := media(2, ms(2024, 1, 2), 1)
	trashed.Trashed = true
	trashedFav := media(3, ms(2024, 1, 3), 1)
	trashedFav.Favorite, trashedFav.Trashed = true, true
	seed(t, db, fav, trashed, trashedFav, media(4, ms(2024, 1, 4), 1))
	d := newDistributor(t, db, time.Minute, nil)

	favorites := d.Favorites()
	defer favorites.Close()
	sameIDs(t, waitFor(t, favorites, loaded).Items, 1)

	trash := d.Trash()
	defer trash.Close()
	sameIDs(t, waitFor(t, trash, loaded).Items, 3, 2)

	timeline := d.Timeline()
	defer timeline.Close()
	sameIDs(t, waitFor(t, timeline, loaded).Items, 4, 1)
}

func TestBlacklistHidesItems(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seed(t, db, media(1, ms(2024, 1, 1), 1), media(2, ms(2024, 1, 2), 3))
	if _, err := db.AddBlacklistRule(ctx, database.BlacklistRule{Label: "Priv*", Wildcard: true}); err != nil {
		t.Fatalf("AddBlacklistRule failed: %v", err)
	}
	d := newDistributor(t, db, time.Minute, nil)

	timeline := d.Timeline()
	defer timeline.Close()
	sameIDs(t, waitFor(t, timeline, loaded).Items, 1)

	search := d.Search(SearchParam{Hue: database.NoHue})
	defer search.Close()
	sameIDs(t, waitFor(t, search, loaded).Items, 1)

	settings := database.DefaultViewSettings()
	settings.HideBlacklistedFromSearch = false
	if err := db.SetViewSettings(ctx, settings); err != nil {
		t.Fatalf("SetViewSettings failed: %v", err)
	}
	waitFor(t, search, func(v ViewState) bool { return len(v.Items) == 2 })
}

func TestSearchByHueAndLabel(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seed(t, db, media(1, ms(2024, 1, 1), 1), media(2, ms(2024, 1, 2), 1), media(3, ms(2024, 1, 3), 1))

	hues := db.HueIndex()
	_ = hues.Upsert(ctx, database.IndexRecord[database.HuePayload]{ID: 1, Payload: database.HuePayload{Primary: 4, Secondary: database.NoHue}})
	_ = hues.Upsert(ctx, database.IndexRecord[database.HuePayload]{ID: 2, Payload: database.HuePayload{Primary: 0, Secondary: 4}})
	_ = hues.Upsert(ctx, database.IndexRecord[database.HuePayload]{ID: 3, Payload: database.HuePayload{Primary: 8, Secondary: database.NoHue}})

	labels := db.ClassificationIndex()
	_ = labels.Upsert(ctx, database.IndexRecord[database.ClassificationPayload]{ID: 1, Payload: database.ClassificationPayload{Label: "tabby cat"}})
	_ = labels.Upsert(ctx, database.IndexRecord[database.ClassificationPayload]{ID: 2, Payload: database.ClassificationPayload{Label: "dog"}})
	_ = labels.Upsert(ctx, database.IndexRecord[database.ClassificationPayload]{ID: 3, Payload: database.ClassificationPayload{Label: "cat"}})

	d := newDistributor(t, db, time.Minute, nil)

	green := d.Search(SearchParam{Hue: 4})
	defer green.Close()
	sameIDs(t, waitFor(t, green, loaded).Items, 2, 1)

	cats := d.Search(SearchParam{Hue: database.NoHue, Label: "CAT"})
	defer cats.Close()
	sameIDs(t, waitFor(t, cats, loaded).Items, 3, 1)

	greenCats := d.Search(SearchParam{Hue: 4, Label: "cat"})
	defer greenCats.Close()
	sameIDs(t, waitFor(t, greenCats, loaded).Items, 1)

	none := d.Search(SearchParam{Hue: database.NoHue, Label: "zebra"})
	defer none.Close()
	if st := waitFor(t, none, loaded); len(st.Items) != 0 {
		t.Errorf("Expected no results, got %v", itemIDs(st.Items))
	}

	if d.search.Len() != 4 {
		t.Errorf("Expected one computation per search parameter, got %d", d.search.Len())
	}
}

func TestPermissionDenied(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1))
	d := newDistributor(t, db, time.Minute, nil)

	sub := d.Timeline()
	defer sub.Close()
	waitFor(t, sub, loaded)

	d.SetPermission(false)
	st := waitFor(t, sub, func(v ViewState) bool { return v.Error != nil })
	if !errors.Is(st.Error, ErrPermissionDenied) || len(st.Items) != 0 {
		t.Errorf("Expected permission denied with no items, got %+v", st)
	}

	d.SetPermission(true)
	waitFor(t, sub, func(v ViewState) bool { return v.Error == nil && len(v.Items) == 1 })
	if !d.Permission() {
		t.Error("Expected permission granted")
	}
}

func TestStorageErrorKeepsStaleItems(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1), media(2, ms(2024, 1, 2), 1))
	d := newDistributor(t, db, time.Minute, nil)

	sub := d.Timeline()
	defer sub.Close()
	waitFor(t, sub, loaded)

	_ = db.Close()
	d.SetPermission(false)
	waitFor(t, sub, func(v ViewState) bool { return errors.Is(v.Error, ErrPermissionDenied) })
	d.SetPermission(true)

	st := waitFor(t, sub, func(v ViewState) bool {
		return v.Error != nil && !errors.Is(v.Error, ErrPermissionDenied)
	})
	sameIDs(t, st.Items, 2, 1)
	if st.IsLoading {
		t.Error("Expected stale state not to be loading")
	}
}

func TestSnapshot(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1))
	d := newDistributor(t, db, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	st, err := Snapshot(ctx, d.Favorites(), func(v ViewState) bool { return v.IsLoading })
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if st.Items == nil || len(st.Items) != 0 {
		t.Errorf("Expected empty non-nil favorites, got %v", st.Items)
	}

	// Zero grace tears the view down as soon as the snapshot closes it
	if d.favorites.State() != stream.Idle {
		t.Errorf("Expected favorites idle after snapshot, got %s", d.favorites.State())
	}
}

func labelAll(t *testing.T, db *database.Database, label string, items []database.MediaItem) {
	t.Helper()
	store := db.ClassificationIndex()
	for _, it := range items {
		rec := database.IndexRecord[database.ClassificationPayload]{ID: it.ID, Payload: database.ClassificationPayload{Label: label}}
		if err := store.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
}

func TestIndexChangesCoalesced(t *testing.T) {
	db := setupTestDB(t)
	items := make([]database.MediaItem, 0, 40)
	for i := int64(1); i <= 40; i++ {
		items = append(items, media(i, ms(2024, 1, 1)+i, 1))
	}
	seed(t, db, items...)
	d := New(db, Config{Grace: time.Minute, Permission: true, IndexWindow: time.Second})

	cats := d.Search(SearchParam{Hue: database.NoHue, Label: "cat"})
	defer cats.Close()
	if st := waitFor(t, cats, loaded); len(st.Items) != 0 {
		t.Fatalf("Expected no matches before labelling, got %v", itemIDs(st.Items))
	}

	recomputes := metrics.DistributorRecomputes.WithLabelValues("search")
	before := testutil.ToFloat64(recomputes)

	labelAll(t, db, "cat", items)
	waitFor(t, cats, func(v ViewState) bool { return len(v.Items) == len(items) })

	if got := testutil.ToFloat64(recomputes) - before; got > 3 {
		t.Errorf("Expected %d index writes to coalesce into a few reloads, got %v", len(items), got)
	}
}

func TestMediaChangeFlushesPendingIndexChanges(t *testing.T) {
	db := setupTestDB(t)
	first := media(1, ms(2024, 1, 1), 1)
	seed(t, db, first)
	d := New(db, Config{Grace: time.Minute, Permission: true, IndexWindow: time.Hour})

	cats := d.Search(SearchParam{Hue: database.NoHue, Label: "cat"})
	defer cats.Close()
	waitFor(t, cats, loaded)

	// The label alone waits for the window; the media change reloads now
	labelAll(t, db, "cat", []database.MediaItem{first})
	seed(t, db, first, media(2, ms(2024, 1, 2), 1))

	st := waitFor(t, cats, func(v ViewState) bool { return len(v.Items) == 1 })
	sameIDs(t, st.Items, 1)
}

func TestNameSortTieBreakIsIDDescending(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, media(1, ms(2024, 1, 1), 1), media(2, ms(2024, 1, 2), 1), media(3, ms(2024, 1, 3), 1))

	settings := database.DefaultViewSettings()
	settings.SortField = database.SortName
	for _, desc := range []bool{true, false} {
		settings.Descending = desc
		if err := db.SetViewSettings(context.Background(), settings); err != nil {
			t.Fatalf("SetViewSettings failed: %v", err)
		}

		d := newDistributor(t, db, 0, nil)
		sub := d.Timeline()
		st := waitFor(t, sub, loaded)
		sub.Close()

		// Every item is named img.jpg
		sameIDs(t, st.Items, 3, 2, 1)
	}
}
