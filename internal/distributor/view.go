package distributor

import (
	"errors"
	"time"

	"media-gallery/internal/database"
)

// ErrPermissionDenied is reported by every view while media access is off.
var ErrPermissionDenied = errors.New("media permission denied")

// SyncTrigger asks for a background sync. RequestSync must not block.
type SyncTrigger interface {
	RequestSync()
}

// Grouping controls the date headers of views.
type Grouping struct {
	// Layout is a time.Format layout, e.g. "January 2006".
	Layout string
	// Location is the zone dates are shown in.
	Location *time.Location
}

// DefaultGrouping groups by month in local time.
func DefaultGrouping() Grouping {
	return Grouping{Layout: "January 2006", Location: time.Local}
}

// Header is one date bucket: Count items starting at index Start.
type Header struct {
	Title string `json:"title"`
	Start int    `json:"start"`
	Count int    `json:"count"`
}

// ViewState is one emission of an item view. On a load error Items holds
// the last good result.
type ViewState struct {
	Items     []database.MediaItem `json:"items"`
	Headers   []Header             `json:"headers"`
	IsLoading bool                 `json:"isLoading"`
	Error     error                `json:"-"`
}

// Album summarizes one album.
type Album struct {
	ID        int64              `json:"id"`
	Label     string             `json:"label"`
	Count     int                `json:"count"`
	Pinned    bool               `json:"pinned"`
	Cover     database.MediaItem `json:"cover"`
	Timestamp int64              `json:"timestamp"`
}

// AlbumList is one emission of the albums view.
type AlbumList struct {
	Albums    []Album `json:"albums"`
	IsLoading bool    `json:"isLoading"`
	Error     error   `json:"-"`

	// members holds each album's items in view order.
	members   map[int64][]database.MediaItem
	sortField database.SortField
}

// SearchParam selects search results. Hue is a hue code or database.NoHue
// to match any hue; an empty Label matches any label.
type SearchParam struct {
	Hue   int    `json:"hue"`
	Label string `json:"label"`
}
