package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/event"
	"github.com/bmsevents/event-ingestor/internal/metrics"
	"github.com/bmsevents/event-ingestor/internal/normalizer"
	"github.com/bmsevents/event-ingestor/internal/store"
)

// CycleRunner runs one scrape cycle to completion.
type CycleRunner interface {
	RunCycle(ctx context.Context) (event.CycleReport, error)
}

// Deps are the collaborators behind the routes. Progress may be nil, in
// which case the cycle progress routes answer 503.
type Deps struct {
	Events     event.Store
	Cycles     CycleRunner
	Progress   store.ProgressRepository
	Normalizer *normalizer.Normalizer
	Clock      event.Clock
	// Ready reports whether downstream dependencies are usable; nil means always ready.
	Ready func(ctx context.Context) error
}

// Config tunes the HTTP layer.
type Config struct {
	// RequestTimeout bounds every route except the scrape trigger.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 60 * time.Second

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{deps: deps, logger: logger}
	progress := NewProgressHandler(deps.Progress, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Route("/api/scrape", func(r chi.Router) {
		// Cycles run for hours; the trigger is deliberately outside the timeout group.
		r.Post("/district", s.triggerCycle)
		r.Post("/cycles", s.triggerCycle)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Get("/events", s.listEvents)
			r.Get("/events/category/{category}", s.eventsByCategory)
			r.Get("/events/location/{location}", s.eventsByLocation)
			r.Get("/events/tag/{tag}", s.eventsByTag)
			r.Get("/events/genre/{genre}", s.eventsByGenre)
			r.Get("/events/search", s.searchEvents)
			r.Get("/events/recent/{hours}", s.recentEvents)
			r.Get("/events/scrapedAt", s.eventsScrapedAfter)
			r.Post("/events/flexible", s.createFlexibleEvent)

			r.Get("/cycles", progress.ListCycles)
			r.Get("/cycles/{cycle_id}", progress.GetCycle)
			r.Get("/cycles/{cycle_id}/backends", progress.ListCycleBackends)
		})
	})

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerCycle handles POST /api/scrape/district. The cycle keeps running if
// the client disconnects so that a dropped connection does not waste a
// multi-hour scrape.
func (s *Server) triggerCycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cycles == nil {
		writeText(w, http.StatusServiceUnavailable, "Error: scrape cycles are not configured")
		return
	}
	report, err := s.deps.Cycles.RunCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Error("scrape cycle failed", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, report.Summary())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(msg)); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}
