package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"media-gallery/internal/indexing"
	"media-gallery/internal/logging"
	"media-gallery/internal/scheduler"
)

// JobInfo describes one registered index job.
type JobInfo struct {
	Name        string           `json:"name"`
	AllowsForce bool             `json:"allowsForce"`
	LastResult  *indexing.Result `json:"lastResult,omitempty"`
}

// JobsResponse lists index jobs and the executions in flight.
type JobsResponse struct {
	Jobs   []JobInfo             `json:"jobs"`
	Active []scheduler.JobStatus `json:"active"`
}

// TriggerSync requests a sync. With ?wait=1 it blocks until the sync ends
// and returns its final status.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !queryBool(r, "wait") {
		h.coord.RequestSync()
		writeJSONStatus(w, http.StatusAccepted, "sync requested")
		return
	}

	status, err := h.coord.SyncAndWait(r.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrClosed) {
			writeJSONError(w, "Scheduler is shutting down", http.StatusServiceUnavailable)
		} else if r.Context().Err() == nil {
			logging.Error("Failed to wait for sync: %v", err)
			writeJSONError(w, "Failed to wait for sync", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status)
}

// TriggerReindex schedules one index job. ?force=1 recomputes every item on
// jobs that support it.
func (h *Handlers) TriggerReindex(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["job"]
	force := queryBool(r, "force")

	handle, err := h.coord.Reindex(name, force)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeJSONError(w, "Unknown job: "+name, http.StatusNotFound)
		return
	case errors.Is(err, scheduler.ErrClosed):
		writeJSONError(w, "Scheduler is shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		logging.Error("Failed to schedule %s: %v", name, err)
		writeJSONError(w, "Failed to schedule job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, handle.Status())
}

// ListJobs returns the index jobs with their last results and every pending
// or running execution.
func (h *Handlers) ListJobs(w http.ResponseWriter, _ *http.Request) {
	resp := JobsResponse{Jobs: []JobInfo{}, Active: h.sched.Active()}
	for _, j := range h.coord.Jobs() {
		info := JobInfo{Name: j.Name(), AllowsForce: j.AllowsForce()}
		if res, ok := j.LastResult(); ok {
			info.LastResult = &res
		}
		resp.Jobs = append(resp.Jobs, info)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

// CancelJobs cancels every execution carrying ?tag=.
func (h *Handlers) CancelJobs(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeJSONError(w, "tag is required", http.StatusBadRequest)
		return
	}

	n := h.sched.CancelByTag(tag)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]int{"cancelled": n})
}

// JobEvents streams the status changes of executions under a key or tag as
// server-sent events, starting with their current status.
func (h *Handlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	events, ok := newEventStream(w)
	if !ok {
		return
	}

	for status := range h.sched.Observe(r.Context(), key) {
		if err := events.send("status", status); err != nil {
			logging.Debug("Job event stream for %s closed: %v", key, err)
			return
		}
	}
}
