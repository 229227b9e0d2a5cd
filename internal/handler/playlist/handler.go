// Package playlist serves the mood music catalog.
package playlist

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
	"github.com/zhouzirui/timemachine/backend/internal/model/playlist"
	"github.com/zhouzirui/timemachine/backend/pkg/utils"
)

// Handler serves playlist lookups.
type Handler struct {
	catalog *playlist.Catalog
}

// New creates a playlist handler.
func New(catalog *playlist.Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes mounts the playlist endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/playlists", h.handleList)
	r.Get("/playlists/mood/{emotion}", h.handleMood)
}

// MoodResponse is the category for an emotion and one track picked from it.
type MoodResponse struct {
	Category playlist.Category `json:"category"`
	Track    playlist.Track    `json:"track"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.catalog.List())
}

func (h *Handler) handleMood(w http.ResponseWriter, r *http.Request) {
	label, ok := emotion.Parse(chi.URLParam(r, "emotion"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown emotion")
		return
	}
	cat, ok := h.catalog.ForEmotion(label)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no playlist for emotion")
		return
	}
	track, _ := h.catalog.Pick(label)
	utils.RespondJSON(w, http.StatusOK, MoodResponse{Category: cat, Track: track})
}
