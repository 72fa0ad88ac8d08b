package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bmsevents/event-ingestor/internal/progress"
)

func TestPrometheusSinkRecordsCycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := [16]byte(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{CycleID: id, TS: now, Stage: progress.StageCycleStart},
		{CycleID: id, TS: now, Stage: progress.StageCycleStart},
		{CycleID: id, TS: now, Stage: progress.StageBackendStart, Backend: "service-3000"},
		{
			CycleID: id, TS: now, Stage: progress.StageBackendDone, Backend: "service-3000",
			Records: 5, Bytes: 2048, Dur: 3 * time.Second,
		},
		{
			CycleID: id, TS: now, Stage: progress.StageBackendError, Backend: "service-3001",
			Dur: time.Second, Note: "read timeout",
		},
		{CycleID: id, TS: now, Stage: progress.StageCycleDone, Records: 5, Dur: 4 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.cyclesStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.cyclesCompleted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.cyclesRunning), 1e-9)
	require.InDelta(t, 5.0, testutil.ToFloat64(sink.backendRecords.WithLabelValues("service-3000")), 1e-9)
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.backendBytes.WithLabelValues("service-3000")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.backendBatches.WithLabelValues("service-3001", "error")), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.backendDuration, "ingestor_backend_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.cycleRuntime, "ingestor_cycle_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
