package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chartscribe/internal/bootstrap"
	"chartscribe/internal/usecase"
)

// newRouter exposes the recording pipeline over HTTP: lifecycle commands,
// status and transcript reads, health checks, and the two websocket surfaces
// (UI event stream and mobile companion link).
func newRouter(svc *bootstrap.Services, log *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &handlers{svc: svc, log: log}

	router.Route("/api", func(api chi.Router) {
		api.Route("/recording", func(rec chi.Router) {
			rec.Get("/status", h.status)
			rec.Post("/start", h.start)
			rec.Post("/stop", h.stop)
			rec.Post("/pause", h.pause)
			rec.Post("/resume", h.resume)
		})

		api.Get("/transcript", h.transcript)
		api.Delete("/transcript", h.clearTranscript)

		api.Get("/health", h.health)
		api.Post("/health/check", h.runHealthCheck)

		api.Get("/devices", h.devices)

		api.Put("/session", h.setSession)
		api.Delete("/session", h.clearSession)
	})

	router.Get("/ws/events", svc.Events.ServeHTTP)
	router.Get("/ws/companion", svc.Companion.ServeHTTP)

	return router
}

type handlers struct {
	svc *bootstrap.Services
	log *slog.Logger
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Controller.Snapshot())
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	// The record action is gated on health readiness, mirroring the disabled
	// record button. force=true bypasses the gate for diagnostics.
	if r.URL.Query().Get("force") != "true" && !h.svc.Supervisor.CanStartRecording() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "recording blocked by health check",
			"health": h.svc.Supervisor.State(),
		})
		return
	}

	if err := h.svc.Controller.StartRecording(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Controller.Snapshot())
}

func (h *handlers) stop(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.Controller.StopRecording(); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Controller.Snapshot())
}

func (h *handlers) pause(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.Controller.PauseRecording(); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Controller.Snapshot())
}

func (h *handlers) resume(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.Controller.ResumeRecording(); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Controller.Snapshot())
}

func (h *handlers) transcript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"text":     h.svc.Transcript.String(),
		"diarized": h.svc.Transcript.Diarized(),
		"segments": h.svc.Transcript.Segments(),
		"words":    h.svc.Transcript.WordCount(),
	})
}

func (h *handlers) clearTranscript(w http.ResponseWriter, _ *http.Request) {
	h.svc.Controller.ClearTranscript()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"health":            h.svc.Supervisor.State(),
		"canStartRecording": h.svc.Supervisor.CanStartRecording(),
	})
}

func (h *handlers) runHealthCheck(w http.ResponseWriter, r *http.Request) {
	healthy := h.svc.Supervisor.RunHealthCheckWithRetry(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy": healthy,
		"health":  h.svc.Supervisor.State(),
	})
}

func (h *handlers) devices(w http.ResponseWriter, r *http.Request) {
	if h.svc.Devices == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	devices, err := h.svc.Devices.ListInputDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (h *handlers) setSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("session id required"))
		return
	}
	h.svc.Sessions.SetActive(body.ID)
	writeJSON(w, http.StatusOK, map[string]string{"activeSession": body.ID})
}

func (h *handlers) clearSession(w http.ResponseWriter, _ *http.Request) {
	h.svc.Sessions.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	if errors.Is(err, usecase.ErrNotRecording) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
