package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"media-gallery/internal/database"
	"media-gallery/internal/logging"
)

// PermissionRequest toggles media access.
type PermissionRequest struct {
	Granted bool `json:"granted"`
}

// GetBlacklist returns every blacklist rule.
func (h *Handlers) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	rules, err := h.db.ListBlacklist(r.Context())
	if err != nil {
		logging.Error("Failed to list blacklist: %v", err)
		writeJSONError(w, "Failed to get blacklist", http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []database.BlacklistRule{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rules)
}

// AddBlacklistRule stores a rule from the request body.
func (h *Handlers) AddBlacklistRule(w http.ResponseWriter, r *http.Request) {
	var rule database.BlacklistRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.db.AddBlacklistRule(r.Context(), rule)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rule.ID = id

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, rule)
}

// RemoveBlacklistRule deletes the rule given by ?id=.
func (h *Handlers) RemoveBlacklistRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeJSONError(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.db.RemoveBlacklistRule(r.Context(), id); err != nil {
		logging.Error("Failed to remove blacklist rule %d: %v", id, err)
		writeJSONError(w, "Failed to remove rule", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, "ok")
}

// PinAlbum pins an album to the top of the album list.
func (h *Handlers) PinAlbum(w http.ResponseWriter, r *http.Request) {
	h.updatePin(w, r, h.db.PinAlbum)
}

// UnpinAlbum removes a pin.
func (h *Handlers) UnpinAlbum(w http.ResponseWriter, r *http.Request) {
	h.updatePin(w, r, h.db.UnpinAlbum)
}

func (h *Handlers) updatePin(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, albumID int64) error) {
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, "Invalid album id", http.StatusBadRequest)
		return
	}
	if err := apply(r.Context(), id); err != nil {
		logging.Error("Failed to update pin for album %d: %v", id, err)
		writeJSONError(w, "Failed to update pin", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, "ok")
}

// GetViewSettings returns the ordering preferences.
func (h *Handlers) GetViewSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.db.GetViewSettings(r.Context())
	if err != nil {
		logging.Error("Failed to get view settings: %v", err)
		writeJSONError(w, "Failed to get view settings", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s)
}

// SetViewSettings replaces the ordering preferences.
func (h *Handlers) SetViewSettings(w http.ResponseWriter, r *http.Request) {
	s := database.DefaultViewSettings()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !s.SortField.Valid() {
		writeJSONError(w, "Invalid sort field: "+string(s.SortField), http.StatusBadRequest)
		return
	}
	if err := h.db.SetViewSettings(r.Context(), s); err != nil {
		logging.Error("Failed to save view settings: %v", err)
		writeJSONError(w, "Failed to save view settings", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s)
}

// GetPermission reports whether media access is granted.
func (h *Handlers) GetPermission(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, PermissionRequest{Granted: h.dist.Permission()})
}

// SetPermission turns media access on or off for every view.
func (h *Handlers) SetPermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.dist.SetPermission(req.Granted)
	logging.Info("Media permission set to %v", req.Granted)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, req)
}
