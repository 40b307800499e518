package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ambientplayer/internal/audiofile"
	"ambientplayer/internal/config"
	"ambientplayer/internal/facade"
)

// repeatModeFromInt maps the wire integer (0=off, 1=single-track,
// 2=playlist) onto config.RepeatMode, defaulting unrecognized values to off.
func repeatModeFromInt(v int) config.RepeatMode {
	switch v {
	case 1:
		return config.RepeatSingleTrack
	case 2:
		return config.RepeatPlaylist
	default:
		return config.RepeatOff
	}
}

type handlers struct {
	f   *facade.Facade
	hub *hub
}

// newRouter constructs the HTTP router with all middleware and routes.
//
// This function is pure: no goroutines are started and no network listeners
// are opened, so it is safe to exercise with httptest.NewServer.
func newRouter(f *facade.Facade, h *hub, reg *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	hnd := &handlers{f: f, hub: h}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", hnd.handleGetState)

		r.Post("/playlist", hnd.handleLoadPlaylist)
		r.Post("/play", hnd.handleStartPlaying)
		r.Post("/pause", hnd.handlePause)
		r.Post("/resume", hnd.handleResume)
		r.Post("/stop", hnd.handleStop)
		r.Post("/finish", hnd.handleFinish)
		r.Post("/seek", hnd.handleSeek)
		r.Post("/skip/next", hnd.handleSkipNext)
		r.Post("/skip/previous", hnd.handleSkipPrevious)
		r.Post("/volume", hnd.handleSetVolume)
		r.Post("/repeat-mode", hnd.handleSetRepeatMode)

		r.Post("/overlay/play", hnd.handlePlayOverlay)
		r.Post("/overlay/stop", hnd.handleStopOverlay)
		r.Post("/overlay/volume", hnd.handleSetOverlayVolume)

		r.Post("/sfx/play", hnd.handlePlaySFX)
	})

	r.Get("/ws", h.handleWebSocket)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/health", hnd.handleHealth)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": h.f.State().String(),
		"err":   errString(h.f.Err()),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loadPlaylistRequest struct {
	Tracks []audiofile.Track `json:"tracks"`
}

func (h *handlers) handleLoadPlaylist(w http.ResponseWriter, r *http.Request) {
	var req loadPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.f.LoadPlaylist(req.Tracks); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

type fadeRequest struct {
	FadeMs int `json:"fade_ms"`
}

func (h *handlers) handleStartPlaying(w http.ResponseWriter, r *http.Request) {
	var req fadeRequest
	json.NewDecoder(r.Body).Decode(&req)
	if err := h.f.StartPlaying(time.Duration(req.FadeMs) * time.Millisecond); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
}

func (h *handlers) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.f.Pause(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *handlers) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.f.Resume(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (h *handlers) handleStop(w http.ResponseWriter, r *http.Request) {
	var req fadeRequest
	json.NewDecoder(r.Body).Decode(&req)
	if err := h.f.Stop(time.Duration(req.FadeMs) * time.Millisecond); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req fadeRequest
	json.NewDecoder(r.Body).Decode(&req)
	if err := h.f.Finish(time.Duration(req.FadeMs) * time.Millisecond); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finished"})
}

type seekRequest struct {
	PositionMs int `json:"position_ms"`
	FadeMs     int `json:"fade_ms"`
}

func (h *handlers) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pos := time.Duration(req.PositionMs) * time.Millisecond
	fade := time.Duration(req.FadeMs) * time.Millisecond
	if err := h.f.Seek(pos, fade); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeked"})
}

func (h *handlers) handleSkipNext(w http.ResponseWriter, r *http.Request) {
	track, err := h.f.SkipToNext()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (h *handlers) handleSkipPrevious(w http.ResponseWriter, r *http.Request) {
	track, err := h.f.SkipToPrevious()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

func (h *handlers) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.f.SetVolume(req.Volume)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type repeatModeRequest struct {
	Mode int `json:"mode"`
}

func (h *handlers) handleSetRepeatMode(w http.ResponseWriter, r *http.Request) {
	var req repeatModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.f.SetRepeatMode(repeatModeFromInt(req.Mode))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type overlayPlayRequest struct {
	URI string `json:"uri"`
}

func (h *handlers) handlePlayOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayPlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.f.PlayOverlay(r.Context(), req.URI); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
}

func (h *handlers) handleStopOverlay(w http.ResponseWriter, r *http.Request) {
	var req fadeRequest
	json.NewDecoder(r.Body).Decode(&req)
	h.f.StopOverlay(time.Duration(req.FadeMs) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) handleSetOverlayVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.f.SetOverlayVolume(req.Volume)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sfxPlayRequest struct {
	Effect string `json:"effect"`
	FadeMs int    `json:"fade_ms"`
}

func (h *handlers) handlePlaySFX(w http.ResponseWriter, r *http.Request) {
	var req sfxPlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fade := time.Duration(req.FadeMs) * time.Millisecond
	if err := h.f.PlaySoundEffect(r.Context(), req.Effect, fade); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
}
