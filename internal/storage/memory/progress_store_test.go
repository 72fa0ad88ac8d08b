package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bmsevents/event-ingestor/internal/store"
)

func TestProgressStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewProgressStore()
	first, second := uuid.New(), uuid.New()
	now := time.Now().UTC()

	require.NoError(t, s.StartCycle(ctx, first, now))
	require.NoError(t, s.StartCycle(ctx, first, now.Add(time.Minute)))
	require.NoError(t, s.StartCycle(ctx, second, now.Add(time.Hour)))
	require.NoError(t, s.UpsertBackend(ctx, store.BackendRun{CycleID: first, Backend: "service-3001", Status: store.RunRunning}))
	require.NoError(t, s.UpsertBackend(ctx, store.BackendRun{CycleID: first, Backend: "service-3000", Status: store.RunRunning}))
	require.NoError(t, s.UpsertBackend(ctx, store.BackendRun{
		CycleID: first, Backend: "service-3001", Status: store.RunSuccess, Records: 4,
	}))
	require.NoError(t, s.FinishCycle(ctx, first, now.Add(2*time.Minute), store.RunSuccess, 4, nil))

	run, err := s.GetCycle(ctx, first)
	require.NoError(t, err)
	require.Equal(t, now, run.StartedAt)
	require.Equal(t, store.RunSuccess, run.Status)
	require.EqualValues(t, 4, run.Total)
	require.NotNil(t, run.FinishedAt)

	_, err = s.GetCycle(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListCycles(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second, list[0].ID)

	running := store.RunRunning
	list, err = s.ListCycles(ctx, &running, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = s.ListCycles(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, list)

	backends, err := s.ListCycleBackends(ctx, first)
	require.NoError(t, err)
	require.Len(t, backends, 2)
	require.Equal(t, "service-3000", backends[0].Backend)
	require.EqualValues(t, 4, backends[1].Records)

	backends, err = s.ListCycleBackends(ctx, second)
	require.NoError(t, err)
	require.Empty(t, backends)
}
