package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"media-gallery/internal/database"
	"media-gallery/internal/distributor"
	"media-gallery/internal/logging"
	"media-gallery/internal/stream"
)

// ViewResponse is the wire form of a distributor.ViewState.
type ViewResponse struct {
	Items     []database.MediaItem `json:"items"`
	Headers   []distributor.Header `json:"headers"`
	IsLoading bool                 `json:"isLoading"`
	Error     string               `json:"error,omitempty"`
}

// AlbumsResponse is the wire form of a distributor.AlbumList.
type AlbumsResponse struct {
	Albums    []distributor.Album `json:"albums"`
	IsLoading bool                `json:"isLoading"`
	Error     string              `json:"error,omitempty"`
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func viewResponse(v distributor.ViewState) ViewResponse {
	return ViewResponse{Items: v.Items, Headers: v.Headers, IsLoading: v.IsLoading, Error: errorString(v.Error)}
}

func albumsResponse(l distributor.AlbumList) AlbumsResponse {
	return AlbumsResponse{Albums: l.Albums, IsLoading: l.IsLoading, Error: errorString(l.Error)}
}

func viewLoading(v distributor.ViewState) bool { return v.IsLoading }

// serveView answers with the first settled value of sub, or streams every
// value as server-sent events when the request has ?watch=1.
func serveView[T any, R any](h *Handlers, w http.ResponseWriter, r *http.Request, sub *stream.Subscription[T], loading func(T) bool, encode func(T) R) {
	if queryBool(r, "watch") {
		streamView(w, r, sub, encode)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.snapshotTimeout)
	defer cancel()

	v, err := distributor.Snapshot(ctx, sub, loading)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSONError(w, "View is still loading", http.StatusServiceUnavailable)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, encode(v))
}

func streamView[T any, R any](w http.ResponseWriter, r *http.Request, sub *stream.Subscription[T], encode func(T) R) {
	defer sub.Close()

	events, ok := newEventStream(w)
	if !ok {
		return
	}
	for {
		v, err := sub.Next(r.Context())
		if err != nil {
			return
		}
		if err := events.send("state", encode(v)); err != nil {
			logging.Debug("View stream for %s closed: %v", r.URL.Path, err)
			return
		}
	}
}

// GetTimeline returns every visible item and asks for a background sync.
func (h *Handlers) GetTimeline(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.dist.Timeline(), viewLoading, viewResponse)
}

// GetAlbums returns the album list.
func (h *Handlers) GetAlbums(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.dist.Albums(), func(l distributor.AlbumList) bool { return l.IsLoading }, albumsResponse)
}

// GetAlbum returns the items of one album.
func (h *Handlers) GetAlbum(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, "Invalid album id", http.StatusBadRequest)
		return
	}
	serveView(h, w, r, h.dist.Album(id), viewLoading, viewResponse)
}

// GetFavorites returns favorite items.
func (h *Handlers) GetFavorites(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.dist.Favorites(), viewLoading, viewResponse)
}

// GetTrash returns trashed items.
func (h *Handlers) GetTrash(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, h.dist.Trash(), viewLoading, viewResponse)
}

// Search filters by ?hue= (a hue code) and ?label= (fuzzy classification
// label). At least one is required.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	param := distributor.SearchParam{Hue: database.NoHue}

	if raw := r.URL.Query().Get("hue"); raw != "" {
		hue, err := strconv.Atoi(raw)
		if err != nil || hue < 0 || hue > 11 {
			writeJSONError(w, "hue must be between 0 and 11", http.StatusBadRequest)
			return
		}
		param.Hue = hue
	}
	param.Label = strings.ToLower(strings.TrimSpace(r.URL.Query().Get("label")))

	if param.Hue == database.NoHue && param.Label == "" {
		writeJSONError(w, "hue or label is required", http.StatusBadRequest)
		return
	}

	serveView(h, w, r, h.dist.Search(param), viewLoading, viewResponse)
}

// StatsResponse holds cache and index counts.
type StatsResponse struct {
	MediaItems    int            `json:"mediaItems"`
	IndexRecords  map[string]int `json:"indexRecords"`
	VersionMarker string         `json:"versionMarker,omitempty"`
}

// GetStats returns cache and index counts.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		logging.Error("Failed to get stats: %v", err)
		writeJSONError(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}
	marker, _, err := h.db.VersionMarker(r.Context())
	if err != nil {
		logging.Warn("Failed to read version marker: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, StatsResponse{
		MediaItems:    stats.MediaItems,
		IndexRecords:  stats.IndexRecords,
		VersionMarker: string(marker),
	})
}
