package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/store"
)

const (
	defaultCycleLimit = 50
	maxCycleLimit     = 500
	progressTimeout   = 3 * time.Second
)

// ProgressHandler exposes read-only cycle progress endpoints.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{repo: repo, timeout: progressTimeout, logger: logger}
}

// ListCycles handles GET /api/scrape/cycles?status=&limit=&offset=. It returns
// {"cycles": [...]}, 400 for invalid filters, 503 without a repository.
func (h *ProgressHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCycleLimit, maxCycleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cycles, err := h.repo.ListCycles(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list cycles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	if cycles == nil {
		cycles = []store.CycleRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

// GetCycle handles GET /api/scrape/cycles/{cycle_id}.
func (h *ProgressHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	id, err := parseCycleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cycle, err := h.repo.GetCycle(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cycle not found")
			return
		}
		h.logger.Error("get cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cycle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle": cycle})
}

// ListCycleBackends handles GET /api/scrape/cycles/{cycle_id}/backends.
func (h *ProgressHandler) ListCycleBackends(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	id, err := parseCycleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	backends, err := h.repo.ListCycleBackends(ctx, id)
	if err != nil {
		h.logger.Error("list cycle backends failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list cycle backends")
		return
	}
	if backends == nil {
		backends = []store.BackendRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": backends})
}

func parseCycleID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "cycle_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("cycle_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid cycle_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success":
		return store.RunSuccess, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}
