// Package orchestrator runs scrape cycles: one task per configured backend on
// the shared worker pool, joined before the cycle report is built.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/event"
	"github.com/bmsevents/event-ingestor/internal/metrics"
	"github.com/bmsevents/event-ingestor/internal/progress"
)

// Submitter accepts backend tasks; the dispatcher implements it.
type Submitter interface {
	Enqueue(ctx context.Context, item event.QueueItem) error
}

// ErrWorkersStopped is the cause recorded for backends still pending when the
// worker pool shuts down mid-cycle.
var ErrWorkersStopped = errors.New("worker pool stopped")

// lifetime is implemented by pools that can stop while a cycle waits on them.
type lifetime interface {
	Stopped() <-chan struct{}
}

// Orchestrator is safe for concurrent RunCycle calls; cycles share nothing
// but the pool.
type Orchestrator struct {
	targets []event.Target
	pool    Submitter
	ids     event.IDGenerator
	clock   event.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// New constructs an Orchestrator. A nil emitter discards progress.
func New(
	targets []event.Target,
	pool Submitter,
	ids event.IDGenerator,
	clock event.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	return &Orchestrator{
		targets: append([]event.Target(nil), targets...),
		pool:    pool,
		ids:     ids,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
}

// Targets returns a copy of the configured backends.
func (o *Orchestrator) Targets() []event.Target {
	return append([]event.Target(nil), o.targets...)
}

// RunCycle scrapes every target and blocks until each has finished. Backend
// failures are reported per target and never fail the cycle; an error is
// returned only when the cycle cannot start.
func (o *Orchestrator) RunCycle(ctx context.Context) (event.CycleReport, error) {
	if len(o.targets) == 0 {
		return event.CycleReport{}, event.ErrNoTargets
	}
	cycleID, err := o.ids.NewID()
	if err != nil {
		return event.CycleReport{}, fmt.Errorf("generate cycle id: %w", err)
	}
	cid, err := progress.ParseCycleID(cycleID)
	if err != nil {
		o.logger.Debug("cycle id is not a uuid, progress events will be dropped", zap.Error(err))
	}
	log := o.logger.With(zap.String("cycle_id", cycleID))

	started := o.clock.Now()
	report := event.CycleReport{CycleID: cycleID, StartedAt: started}
	o.emitter.Emit(progress.Event{CycleID: cid, TS: started, Stage: progress.StageCycleStart})

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("cycle not started: %w", err)
		o.emitter.Emit(progress.Event{
			CycleID: cid, TS: o.clock.Now(), Stage: progress.StageCycleError, Note: err.Error(),
		})
		return report, err
	}

	metrics.IncCyclesInFlight()
	defer metrics.DecCyclesInFlight()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if l, ok := o.pool.(lifetime); ok {
		stopped := l.Stopped()
		go func() {
			select {
			case <-stopped:
				cancel(ErrWorkersStopped)
			case <-ctx.Done():
			}
		}()
	}
	log.Info("scrape cycle started", zap.Int("backends", len(o.targets)))

	results := make([]event.BackendResult, len(o.targets))
	pending := make([]chan event.BackendResult, len(o.targets))
	for i, t := range o.targets {
		ch := make(chan event.BackendResult, 1)
		item := event.QueueItem{CycleID: cycleID, Target: t, Result: ch}
		if err := o.pool.Enqueue(ctx, item); err != nil {
			log.Error("backend task not submitted", zap.String("backend", t.Name), zap.Error(err))
			results[i] = failed(t, fmt.Errorf("submit: %w", err))
			continue
		}
		pending[i] = ch
	}

	for i, ch := range pending {
		if ch == nil {
			continue
		}
		select {
		case res := <-ch:
			results[i] = res
		case <-ctx.Done():
			results[i] = failed(o.targets[i], fmt.Errorf("abandoned: %w", context.Cause(ctx)))
		}
	}

	for _, r := range results {
		if r.State != event.StateDone {
			r.Saved = 0
		}
		report.Total += r.Saved
	}
	report.Backends = results
	report.FinishedAt = o.clock.Now()
	dur := report.FinishedAt.Sub(started)

	fields := []zap.Field{zap.Int("total", report.Total), zap.Duration("dur", dur)}
	for _, r := range results {
		fields = append(fields, zap.Int(r.Backend, r.Saved))
	}
	log.Info("scrape cycle completed", fields...)
	o.emitter.Emit(progress.Event{
		CycleID: cid, TS: report.FinishedAt, Stage: progress.StageCycleDone,
		Records: int64(report.Total), Dur: nonNegative(dur),
	})
	return report, nil
}

func failed(t event.Target, err error) event.BackendResult {
	return event.BackendResult{Backend: t.Name, URL: t.URL, State: event.StateFailed, Error: err.Error()}
}

func nonNegative(d time.Duration) time.Duration {
	return max(d, 0)
}

