package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/progress"
)

// LogSink writes one log line per progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger; nil yields a no-op sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Error stages log at Warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("cycle_id", evt.CycleUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stage.IsBackend() {
			fields = append(fields, zap.String("backend", evt.Backend), zap.String("url", evt.URL))
		}
		if evt.Records > 0 {
			fields = append(fields, zap.Int64("records", evt.Records))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		switch evt.Stage {
		case progress.StageCycleError, progress.StageBackendError:
			s.logger.Warn("progress", append(fields, zap.String("error", evt.Note))...)
		default:
			s.logger.Info("progress", fields...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
