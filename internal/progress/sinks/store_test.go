package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bmsevents/event-ingestor/internal/progress"
	"github.com/bmsevents/event-ingestor/internal/store"
)

func TestStoreSinkWritesCycleHistory(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	id := uuid.New()
	cid := [16]byte(id)
	now := time.Now()

	batch := []progress.Event{
		{CycleID: cid, Stage: progress.StageCycleDone, TS: now.Add(5 * time.Second), Records: 5},
		{CycleID: cid, Stage: progress.StageBackendStart, Backend: "service-3000", TS: now},
		{CycleID: cid, Stage: progress.StageCycleStart, TS: now},
		{
			CycleID: cid, Stage: progress.StageBackendDone, Backend: "service-3000",
			TS: now.Add(time.Second), Records: 5, Bytes: 100, Dur: time.Second,
		},
		{
			CycleID: cid, Stage: progress.StageBackendError, Backend: "service-3001",
			TS: now.Add(2 * time.Second), Note: "timeout",
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"start", "backend", "backend", "finish"}, repo.calls)
	require.Len(t, repo.backends, 2)
	require.Equal(t, store.RunSuccess, repo.backends[0].Status)
	require.EqualValues(t, 5, repo.backends[0].Records)
	require.Equal(t, store.RunError, repo.backends[1].Status)
	require.Equal(t, "timeout", *repo.backends[1].Error)
	require.Equal(t, id, repo.finishedID)
	require.Equal(t, store.RunSuccess, repo.finishedStatus)
	require.EqualValues(t, 5, repo.finishedTotal)
}

func TestStoreSinkCycleError(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{CycleID: [16]byte(uuid.New()), Stage: progress.StageCycleError, TS: time.Now(), Note: "no targets"},
	})
	require.NoError(t, err)
	require.Equal(t, store.RunError, repo.finishedStatus)
	require.Equal(t, "no targets", *repo.finishedMsg)
}

func TestStoreSinkSurfacesRepositoryErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{CycleID: [16]byte(uuid.New()), Stage: progress.StageCycleStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "start cycle")
}

type fakeProgressRepo struct {
	fail           bool
	calls          []string
	backends       []store.BackendRun
	finishedID     uuid.UUID
	finishedStatus store.RunStatus
	finishedTotal  int64
	finishedMsg    *string
}

func (f *fakeProgressRepo) StartCycle(context.Context, uuid.UUID, time.Time) error {
	if f.fail {
		return errors.New("db down")
	}
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeProgressRepo) FinishCycle(
	_ context.Context, id uuid.UUID, _ time.Time, status store.RunStatus, total int64, msg *string,
) error {
	f.calls = append(f.calls, "finish")
	f.finishedID, f.finishedStatus, f.finishedTotal, f.finishedMsg = id, status, total, msg
	return nil
}

func (f *fakeProgressRepo) UpsertBackend(_ context.Context, run store.BackendRun) error {
	f.calls = append(f.calls, "backend")
	f.backends = append(f.backends, run)
	return nil
}

func (f *fakeProgressRepo) GetCycle(context.Context, uuid.UUID) (store.CycleRun, error) {
	return store.CycleRun{}, store.ErrNotFound
}

func (f *fakeProgressRepo) ListCycles(context.Context, *store.RunStatus, int, int) ([]store.CycleRun, error) {
	return nil, nil
}

func (f *fakeProgressRepo) ListCycleBackends(context.Context, uuid.UUID) ([]store.BackendRun, error) {
	return nil, nil
}

func (f *fakeProgressRepo) Close() error { return nil }
