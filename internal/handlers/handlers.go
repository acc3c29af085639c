package handlers

import (
	"time"

	"github.com/gorilla/mux"

	"media-gallery/internal/database"
	"media-gallery/internal/distributor"
	"media-gallery/internal/indexer"
	"media-gallery/internal/scheduler"
)

// DefaultSnapshotTimeout bounds how long a JSON view request waits for the
// view to finish loading.
const DefaultSnapshotTimeout = 10 * time.Second

// Handlers serves the HTTP API.
type Handlers struct {
	db    *database.Database
	coord *indexer.Coordinator
	sched *scheduler.Scheduler
	dist  *distributor.Distributor

	snapshotTimeout time.Duration
}

// New creates the API handlers.
func New(db *database.Database, coord *indexer.Coordinator, sched *scheduler.Scheduler, dist *distributor.Distributor) *Handlers {
	return &Handlers{
		db:              db,
		coord:           coord,
		sched:           sched,
		dist:            dist,
		snapshotTimeout: DefaultSnapshotTimeout,
	}
}

// Router registers every route. /metrics is only served when metricsEnabled.
func (h *Handlers) Router(metricsEnabled bool) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")
	if metricsEnabled {
		r.Handle("/metrics", h.MetricsHandler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Views
	api.HandleFunc("/timeline", h.GetTimeline).Methods("GET")
	api.HandleFunc("/albums", h.GetAlbums).Methods("GET")
	api.HandleFunc("/albums/{id:-?[0-9]+}", h.GetAlbum).Methods("GET")
	api.HandleFunc("/favorites", h.GetFavorites).Methods("GET")
	api.HandleFunc("/trash", h.GetTrash).Methods("GET")
	api.HandleFunc("/search", h.Search).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	// Jobs
	api.HandleFunc("/sync", h.TriggerSync).Methods("POST")
	api.HandleFunc("/reindex/{job}", h.TriggerReindex).Methods("POST")
	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/cancel", h.CancelJobs).Methods("POST")
	api.HandleFunc("/jobs/{key}/events", h.JobEvents).Methods("GET")

	// Settings
	settings := api.PathPrefix("/settings").Subrouter()
	settings.HandleFunc("/blacklist", h.GetBlacklist).Methods("GET")
	settings.HandleFunc("/blacklist", h.AddBlacklistRule).Methods("POST")
	settings.HandleFunc("/blacklist", h.RemoveBlacklistRule).Methods("DELETE")
	settings.HandleFunc("/pins/{id:-?[0-9]+}", h.PinAlbum).Methods("POST")
	settings.HandleFunc("/pins/{id:-?[0-9]+}", h.UnpinAlbum).Methods("DELETE")
	settings.HandleFunc("/view", h.GetViewSettings).Methods("GET")
	settings.HandleFunc("/view", h.SetViewSettings).Methods("PUT")
	settings.HandleFunc("/permission", h.GetPermission).Methods("GET")
	settings.HandleFunc("/permission", h.SetPermission).Methods("PUT")

	return r
}
