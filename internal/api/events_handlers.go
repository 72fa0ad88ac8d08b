package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/event"
)

const maxFlexibleBody = 1 << 20

// scrapedAtLayouts are tried in order; layouts without an offset are read as UTC.
var scrapedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	s.findEvents(w, r, event.Filter{})
}

func (s *Server) eventsByCategory(w http.ResponseWriter, r *http.Request) {
	s.findEvents(w, r, event.Filter{Category: chi.URLParam(r, "category")})
}

func (s *Server) eventsByLocation(w http.ResponseWriter, r *http.Request) {
	s.findEvents(w, r, event.Filter{Location: chi.URLParam(r, "location")})
}

func (s *Server) eventsByTag(w http.ResponseWriter, r *http.Request) {
	s.findEvents(w, r, event.Filter{Tag: chi.URLParam(r, "tag")})
}

func (s *Server) eventsByGenre(w http.ResponseWriter, r *http.Request) {
	s.findEvents(w, r, event.Filter{Genre: chi.URLParam(r, "genre")})
}

func (s *Server) searchEvents(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'title' is required")
		return
	}
	s.findEvents(w, r, event.Filter{TitleContains: title})
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(chi.URLParam(r, "hours"))
	if err != nil || hours < 0 {
		writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
		return
	}
	since := s.deps.Clock.Now().Add(-time.Duration(hours) * time.Hour)
	s.findEvents(w, r, event.Filter{ScrapedAfter: since})
}

// eventsScrapedAfter handles GET /events/scrapedAt?lastScrapedAt=...; the
// bound is exclusive.
func (s *Server) eventsScrapedAfter(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("lastScrapedAt")
	after, err := parseScrapedAt(raw)
	if err != nil {
		s.logger.Warn("invalid lastScrapedAt parameter", zap.String("value", raw), zap.Error(err))
		writeError(w, http.StatusBadRequest,
			"Invalid 'lastScrapedAt' format. Use ISO_LOCAL_DATE_TIME, e.g. '2024-06-09T12:00:00'")
		return
	}
	s.findEvents(w, r, event.Filter{ScrapedAfter: after})
}

func parseScrapedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("lastScrapedAt is required")
	}
	var firstErr error
	for _, layout := range scrapedAtLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func (s *Server) findEvents(w http.ResponseWriter, r *http.Request, filter event.Filter) {
	events, err := s.deps.Events.Find(r.Context(), filter)
	if err != nil {
		s.logger.Error("find events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// createFlexibleEvent handles POST /events/flexible. Known fields are lifted
// best-effort; the whole object is kept in additionalData.
func (s *Server) createFlexibleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFlexibleBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxFlexibleBody {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	var payload map[string]any
	if err := event.DecodeJSON(body, &payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	saved, err := s.deps.Events.Save(r.Context(), s.deps.Normalizer.FromPayload(payload))
	if err != nil {
		s.logger.Error("save flexible event failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save event")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
