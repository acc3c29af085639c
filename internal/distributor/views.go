package distributor

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"media-gallery/internal/database"
)

func sortItems(items []database.MediaItem, s database.ViewSettings) {
	field := s.SortField
	if !field.Valid() {
		field = database.SortModified
	}
	// Ties always break by id descending, whatever the direction
	slices.SortFunc(items, func(a, b database.MediaItem) int {
		c := compareField(a, b, field)
		if s.Descending {
			c = -c
		}
		if c == 0 {
			c = cmp.Compare(b.ID, a.ID)
		}
		return c
	})
}

func compareField(a, b database.MediaItem, field database.SortField) int {
	switch field {
	case database.SortTaken:
		return cmp.Compare(takenAt(a), takenAt(b))
	case database.SortName:
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	default:
		return cmp.Compare(a.Timestamp, b.Timestamp)
	}
}

func takenAt(it database.MediaItem) int64 {
	if it.TakenAt != 0 {
		return it.TakenAt
	}
	return it.Timestamp
}

// headers buckets sorted items into contiguous groups.
func headers(items []database.MediaItem, field database.SortField, g Grouping) []Header {
	out := []Header{}
	for i, it := range items {
		title := g.title(it, field)
		if n := len(out); n == 0 || out[n-1].Title != title {
			out = append(out, Header{Title: title, Start: i})
		}
		out[len(out)-1].Count++
	}
	return out
}

func (g Grouping) title(it database.MediaItem, field database.SortField) string {
	switch field {
	case database.SortName:
		if r, _ := utf8.DecodeRuneInString(it.Name); unicode.IsLetter(r) {
			return string(unicode.ToUpper(r))
		}
		return "#"
	case database.SortTaken:
		return g.format(takenAt(it))
	default:
		return g.format(it.Timestamp)
	}
}

func (g Grouping) format(ms int64) string {
	loc := g.Location
	if loc == nil {
		loc = time.Local
	}
	layout := g.Layout
	if layout == "" {
		layout = DefaultGrouping().Layout
	}
	return time.UnixMilli(ms).In(loc).Format(layout)
}

func (d *Distributor) state(lib library, items []database.MediaItem) ViewState {
	if items == nil {
		items = []database.MediaItem{}
	}
	return ViewState{
		Items:     items,
		Headers:   headers(items, lib.settings.SortField, d.cfg.Grouping),
		IsLoading: lib.loading,
		Error:     lib.err,
	}
}

func filter(items []database.MediaItem, keep func(database.MediaItem) bool) []database.MediaItem {
	out := make([]database.MediaItem, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (d *Distributor) timelineState(lib library) ViewState {
	return d.state(lib, filter(lib.visible, func(it database.MediaItem) bool { return !it.Trashed }))
}

func (d *Distributor) favoritesState(lib library) ViewState {
	return d.state(lib, filter(lib.visible, func(it database.MediaItem) bool { return it.Favorite && !it.Trashed }))
}

func (d *Distributor) trashState(lib library) ViewState {
	return d.state(lib, filter(lib.all, func(it database.MediaItem) bool { return it.Trashed }))
}

func (d *Distributor) albumState(id int64, l AlbumList) ViewState {
	items := slices.Clone(l.members[id])
	if items == nil {
		items = []database.MediaItem{}
	}
	return ViewState{
		Items:     items,
		Headers:   headers(items, l.sortField, d.cfg.Grouping),
		IsLoading: l.IsLoading,
		Error:     l.Error,
	}
}

// albumList groups visible items by album. Pinned albums come first, then
// albums by their newest item, ties broken by id descending.
func albumList(lib library) AlbumList {
	index := make(map[int64]int)
	albums := []Album{}
	members := make(map[int64][]database.MediaItem)
	for _, it := range lib.visible {
		if it.Trashed {
			continue
		}
		members[it.AlbumID] = append(members[it.AlbumID], it)
		i, ok := index[it.AlbumID]
		if !ok {
			i = len(albums)
			index[it.AlbumID] = i
			albums = append(albums, Album{
				ID:     it.AlbumID,
				Label:  it.AlbumLabel,
				Pinned: lib.pinned[it.AlbumID],
				Cover:  it,
			})
		}
		a := &albums[i]
		a.Count++
		if it.Timestamp > a.Timestamp {
			a.Timestamp = it.Timestamp
		}
	}

	slices.SortFunc(albums, func(a, b Album) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	return AlbumList{
		Albums:    albums,
		IsLoading: lib.loading,
		Error:     lib.err,
		members:   members,
		sortField: lib.settings.SortField,
	}
}

func (d *Distributor) searchState(p SearchParam, lib library) ViewState {
	source := lib.visible
	if !lib.settings.HideBlacklistedFromSearch {
		source = lib.all
	}

	var labels map[string]bool
	if q := strings.TrimSpace(p.Label); q != "" {
		labels = matchingLabels(q, lib.labels)
	}

	return d.state(lib, filter(source, func(it database.MediaItem) bool {
		if it.Trashed {
			return false
		}
		if p.Hue != database.NoHue && !lib.hues[it.ID].HasHue(p.Hue) {
			return false
		}
		if labels != nil && !labels[lib.labels[it.ID]] {
			return false
		}
		return true
	}))
}

// matchingLabels returns the distinct labels that fuzzily match query.
func matchingLabels(query string, byItem map[int64]string) map[string]bool {
	seen := make(map[string]bool)
	distinct := make([]string, 0, len(byItem))
	for _, l := range byItem {
		if l != "" && !seen[l] {
			seen[l] = true
			distinct = append(distinct, l)
		}
	}

	out := make(map[string]bool)
	for _, m := range fuzzy.RankFindFold(query, distinct) {
		out[m.Target] = true
	}
	return out
}
