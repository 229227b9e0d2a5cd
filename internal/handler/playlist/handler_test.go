package playlist

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
	"github.com/zhouzirui/timemachine/backend/internal/model/playlist"
)

func router() *chi.Mux {
	r := chi.NewRouter()
	New(playlist.Default()).RegisterRoutes(r)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func TestListPlaylists(t *testing.T) {
	resp := get(router(), "/playlists")
	require.Equal(t, http.StatusOK, resp.Code)
	var cats []playlist.Category
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cats))
	assert.Len(t, cats, len(emotion.Labels()))
}

func TestMoodPicksTrackFromCategory(t *testing.T) {
	resp := get(router(), "/playlists/mood/LOVE")
	require.Equal(t, http.StatusOK, resp.Code)

	var got MoodResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, emotion.Love, got.Category.Emotion)
	assert.Contains(t, got.Category.Tracks, got.Track)
}

func TestMoodUnknownEmotion(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(router(), "/playlists/mood/boredom").Code)
}
