package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-gallery/internal/indexer"
	"media-gallery/internal/scheduler"
	"media-gallery/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Ready     bool   `json:"ready"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Syncing   bool   `json:"syncing"`
	LastSync  string `json:"lastSync,omitempty"`
	LastError string `json:"lastError,omitempty"`

	LastSyncResult *indexer.SyncResult   `json:"lastSyncResult,omitempty"`
	Jobs           []scheduler.JobStatus `json:"jobs"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	MediaItems int `json:"mediaItems"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.coord.GetHealthStatus()

	response := HealthResponse{
		Ready:          health.Ready,
		Version:        startup.Version,
		Uptime:         health.Uptime,
		Syncing:        health.Syncing,
		LastError:      health.LastError,
		LastSyncResult: health.LastSyncResult,
		Jobs:           health.Jobs,
		GoVersion:      runtime.Version(),
		NumCPU:         runtime.NumCPU(),
		NumGoroutine:   runtime.NumGoroutine(),
	}
	if response.Jobs == nil {
		response.Jobs = []scheduler.JobStatus{}
	}

	switch {
	case !health.Ready:
		response.Status = statusStarting
	case health.LastError != "":
		response.Status = statusDegraded
	default:
		response.Status = statusHealthy
	}

	if !health.LastSync.IsZero() {
		response.LastSync = health.LastSync.Format(time.RFC3339)
	}
	if n, err := h.db.CountMedia(r.Context()); err == nil {
		response.MediaItems = n
	}

	w.Header().Set("Content-Type", "application/json")

	// Return 503 only if not ready at all
	if !health.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 only after the first successful sync
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.coord.IsReady() {
		writeJSONStatus(w, http.StatusOK, "ready")
	} else {
		writeJSONStatus(w, http.StatusServiceUnavailable, "not_ready")
	}
}

// GetVersion returns the application version and build information
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, startup.GetBuildInfo())
}

// MetricsHandler returns the Prometheus metrics handler
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.Handler()
}
