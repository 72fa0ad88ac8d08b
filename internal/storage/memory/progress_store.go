package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bmsevents/event-ingestor/internal/store"
)

// ProgressStore keeps cycle history in maps.
type ProgressStore struct {
	mu       sync.RWMutex
	cycles   map[uuid.UUID]store.CycleRun
	backends map[uuid.UUID][]store.BackendRun
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore returns an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		cycles:   make(map[uuid.UUID]store.CycleRun),
		backends: make(map[uuid.UUID][]store.BackendRun),
	}
}

// StartCycle records a running cycle unless it already exists.
func (s *ProgressStore) StartCycle(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[id]; ok {
		return nil
	}
	s.cycles[id] = store.CycleRun{ID: id, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// FinishCycle marks the cycle terminal, creating it when the start was lost.
func (s *ProgressStore) FinishCycle(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	total int64,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.cycles[id]
	if !ok {
		run = store.CycleRun{ID: id, StartedAt: finishedAt}
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Total = total
	run.ErrorMessage = errMsg
	s.cycles[id] = run
	return nil
}

// UpsertBackend replaces the row for (cycle, backend).
func (s *ProgressStore) UpsertBackend(_ context.Context, run store.BackendRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.backends[run.CycleID]
	for i := range rows {
		if rows[i].Backend == run.Backend {
			rows[i] = run
			return nil
		}
	}
	s.backends[run.CycleID] = append(rows, run)
	return nil
}

// GetCycle returns store.ErrNotFound for unknown ids.
func (s *ProgressStore) GetCycle(_ context.Context, id uuid.UUID) (store.CycleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.cycles[id]
	if !ok {
		return store.CycleRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListCycles returns cycles newest first.
func (s *ProgressStore) ListCycles(
	_ context.Context,
	status *store.RunStatus,
	limit, offset int,
) ([]store.CycleRun, error) {
	s.mu.RLock()
	out := make([]store.CycleRun, 0, len(s.cycles))
	for _, run := range s.cycles {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b store.CycleRun) int {
		return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(b.ID.String(), a.ID.String()))
	})
	return page(out, limit, offset), nil
}

// ListCycleBackends returns the backend rows of a cycle ordered by name.
func (s *ProgressStore) ListCycleBackends(_ context.Context, id uuid.UUID) ([]store.BackendRun, error) {
	s.mu.RLock()
	out := slices.Clone(s.backends[id])
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b store.BackendRun) int { return cmp.Compare(a.Backend, b.Backend) })
	if out == nil {
		out = []store.BackendRun{}
	}
	return out, nil
}

// Close is a no-op.
func (s *ProgressStore) Close() error { return nil }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
