package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"whispr-capture-service/internal/app"
	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/observability"
	"whispr-capture-service/internal/observability/metrics"
	"whispr-capture-service/internal/service/orchestrator"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(metrics.DefaultMetrics))

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, application.Status())
		})
		r.Get("/note", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(application.Orchestrator.FormattedNote()))
		})
		r.Put("/locale", setLocale(application))
		r.Post("/sources/{source}/start", toggle(application, true))
		r.Post("/sources/{source}/stop", toggle(application, false))
		r.Get("/live", liveHandler(application))
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type startRequest struct {
	app.DescriptorRequest
	Locale string `json:"locale,omitempty"`
}

func toggle(application *app.Application, enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := audio.ParseSourceKind(chi.URLParam(r, "source"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}

		var req startRequest
		if enable && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
				return
			}
		}

		desc := application.Descriptor(kind, req.DescriptorRequest)
		if err := application.Orchestrator.ToggleRecording(r.Context(), kind, enable, desc, req.Locale); err != nil {
			log.Warn().Err(err).Str("source", kind.String()).Bool("enable", enable).Msg("Toggle recording failed")
			writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, application.Status())
	}
}

func setLocale(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Locale string `json:"locale"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Locale == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "locale is required"})
			return
		}
		if err := application.Orchestrator.SetLocale(req.Locale); err != nil {
			writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"locale": application.Orchestrator.Locale()})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrDescriptorMismatch):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrLocaleLocked), errors.Is(err, audio.ErrAlreadyStreaming):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrFormatUnsupported):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
