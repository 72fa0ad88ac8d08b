package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/progress"
	"github.com/bmsevents/event-ingestor/internal/store"
)

// StoreSink writes cycle history through a store.ProgressRepository. Within a
// batch only the latest event per backend is written.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type backendKey struct {
	cycle   uuid.UUID
	backend string
}

// Consume applies cycle starts, then backend rows, then cycle completions, so
// a batch holding a whole short cycle still lands in a consistent order.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var finishes []progress.Event
	latest := make(map[backendKey]progress.Event)
	order := make([]backendKey, 0)

	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageCycleStart:
			if err := s.repo.StartCycle(ctx, evt.CycleUUID(), evt.TS); err != nil {
				return fmt.Errorf("start cycle: %w", err)
			}
		case evt.Stage.IsBackend():
			key := backendKey{cycle: evt.CycleUUID(), backend: evt.Backend}
			if _, seen := latest[key]; !seen {
				order = append(order, key)
			}
			latest[key] = evt
		case evt.Stage == progress.StageCycleDone || evt.Stage == progress.StageCycleError:
			finishes = append(finishes, evt)
		}
	}

	for _, key := range order {
		if err := s.repo.UpsertBackend(ctx, backendRun(latest[key])); err != nil {
			return fmt.Errorf("upsert backend %s: %w", key.backend, err)
		}
	}

	for _, evt := range finishes {
		status := store.RunSuccess
		var msg *string
		if evt.Stage == progress.StageCycleError {
			status = store.RunError
			note := evt.Note
			msg = &note
		}
		if err := s.repo.FinishCycle(ctx, evt.CycleUUID(), evt.TS, status, evt.Records, msg); err != nil {
			return fmt.Errorf("finish cycle: %w", err)
		}
	}
	return nil
}

func backendRun(evt progress.Event) store.BackendRun {
	run := store.BackendRun{
		CycleID:    evt.CycleUUID(),
		Backend:    evt.Backend,
		URL:        evt.URL,
		Records:    evt.Records,
		Bytes:      evt.Bytes,
		Duration:   evt.Dur.Seconds(),
		LastUpdate: evt.TS,
	}
	switch evt.Stage {
	case progress.StageBackendDone:
		run.Status = store.RunSuccess
	case progress.StageBackendError:
		run.Status = store.RunError
		note := evt.Note
		run.Error = &note
	default:
		run.Status = store.RunRunning
	}
	return run
}

// Close is a no-op; the repository is owned by the caller.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
