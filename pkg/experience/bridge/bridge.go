// Package bridge exposes a pipeline over HTTP so page scripts, debug
// tooling, and server-rendered pages can drive it: consent changes, event
// capture, the shared debug context, and the blocked-event queue.
package bridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/profile"
)

// Handler serves the bridge routes for one pipeline.
type Handler struct {
	pipeline *experience.Pipeline
	resolver *profile.ServerResolver
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithServerResolver mounts GET /resolve, which resolves the requesting
// browser's profile from its cookies and sets the anonymous-id cookie.
func WithServerResolver(r *profile.ServerResolver) Option {
	return func(h *Handler) {
		h.resolver = r
	}
}

// NewHandler creates a bridge for p.
func NewHandler(p *experience.Pipeline, opts ...Option) *Handler {
	h := &Handler{pipeline: p}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a chi router with request ids, panic recovery, and the
// bridge routes mounted at the root.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.requestLog)
	h.Routes(r)
	return r
}

// Routes mounts the bridge routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/consent", h.GetConsent)
	r.Post("/consent", h.SetConsent)

	r.Post("/events/{type}", h.CaptureEvent)
	r.Post("/reset", h.Reset)
	r.Post("/experiences/resolve", h.ResolveExperience)

	r.Get("/debug", h.Debug)
	r.Get("/debug/{namespace}", h.DebugNamespace)
	r.Get("/queue", h.Queue)

	if h.resolver != nil {
		r.Get("/resolve", h.Resolve)
	}
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if h.logger != nil {
			h.logger.Debug("bridge request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		}
	})
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	var te *experience.TransportError
	var ce *experience.ConfigurationError
	switch {
	case errors.Is(err, experience.ErrUnknownEventType), errors.Is(err, experience.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	case errors.As(err, &te):
		return http.StatusBadGateway
	case errors.Is(err, experience.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
