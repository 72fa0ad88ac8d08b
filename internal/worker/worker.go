// Package worker runs one backend of a scrape cycle end to end: fetch, archive
// the raw body, normalize, persist, notify.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/backend"
	"github.com/bmsevents/event-ingestor/internal/event"
	"github.com/bmsevents/event-ingestor/internal/metrics"
	"github.com/bmsevents/event-ingestor/internal/normalizer"
	"github.com/bmsevents/event-ingestor/internal/progress"
)

// Config controls archive layout and notifications.
type Config struct {
	// BlobPrefix is the first path segment of archived payloads.
	BlobPrefix string
	// Topic receives one BatchNotification per persisted batch; empty disables it.
	Topic       string
	ContentType string
}

// Deps are the collaborators of a Worker. Blobs and Publisher are optional.
type Deps struct {
	Queue      event.Queue
	Fetcher    event.Fetcher
	Normalizer *normalizer.Normalizer
	Store      event.Store
	Blobs      event.BlobStore
	Publisher  event.Publisher
	Hasher     event.Hasher
	Clock      event.Clock
	Emitter    progress.Emitter
}

// Worker consumes queue items and reports one BackendResult per item.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, event.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		res := w.safeScrape(ctx, item)
		if item.Result != nil {
			item.Result <- res
		}
	}
}

// safeScrape turns a panic inside one backend task into that backend's failure.
func (w *Worker) safeScrape(ctx context.Context, item event.QueueItem) (res event.BackendResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("backend task panicked",
				zap.String("cycle_id", item.CycleID),
				zap.String("backend", item.Target.Name),
				zap.Any("panic", r))
			res = event.BackendResult{
				Backend: item.Target.Name,
				URL:     item.Target.URL,
				State:   event.StateFailed,
				Error:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return w.Scrape(ctx, item.CycleID, item.Target)
}

// Scrape runs the pipeline for one target. It never returns an error: every
// failure is folded into a StateFailed result that saved nothing.
func (w *Worker) Scrape(ctx context.Context, cycleID string, target event.Target) event.BackendResult {
	log := w.logger.With(zap.String("cycle_id", cycleID), zap.String("backend", target.Name))
	cid, err := progress.ParseCycleID(cycleID)
	if err != nil {
		log.Debug("cycle id is not a uuid, progress events will be dropped", zap.Error(err))
	}
	started := w.deps.Clock.Now()
	res := event.BackendResult{Backend: target.Name, URL: target.URL, State: event.StateFetching}
	w.emit(progress.Event{
		CycleID: cid, TS: started, Stage: progress.StageBackendStart, Backend: target.Name, URL: target.URL,
	})

	fail := func(stage string, err error) event.BackendResult {
		res.State = event.StateFailed
		res.Saved = 0
		res.Error = fmt.Sprintf("%s: %v", stage, err)
		res.Duration = w.deps.Clock.Now().Sub(started)
		log.Warn("backend task failed", zap.String("stage", stage), zap.String("url", target.URL), zap.Error(err))
		w.emit(progress.Event{
			CycleID: cid, TS: w.deps.Clock.Now(), Stage: progress.StageBackendError,
			Backend: target.Name, URL: target.URL, Bytes: res.Bytes, Dur: res.Duration, Note: res.Error,
		})
		return res
	}

	body, err := w.deps.Fetcher.Fetch(ctx, target.URL)
	fetchDur := w.deps.Clock.Now().Sub(started)
	switch {
	case errors.Is(err, backend.ErrEmptyResponse):
		metrics.ObserveBackendFetch(target.Name, true, fetchDur)
		log.Info("backend returned no data", zap.String("url", target.URL))
	case err != nil:
		metrics.ObserveBackendFetch(target.Name, false, fetchDur)
		return fail("fetch", err)
	default:
		metrics.ObserveBackendFetch(target.Name, true, fetchDur)
	}
	res.Bytes = int64(len(body))
	if len(body) > 0 {
		w.archive(ctx, log, cycleID, target.Name, body)
	}

	res.State = event.StateNormalizing
	batch := w.deps.Normalizer.NormalizeBatch(body, target.Name)
	res.Fetched = len(batch)

	res.State = event.StatePersisting
	if len(batch) > 0 {
		saved, err := w.deps.Store.SaveAll(ctx, batch)
		if err != nil {
			return fail("persist", err)
		}
		res.Saved = len(saved)
		metrics.ObserveEventsSaved(target.Name, res.Saved)
		w.notify(ctx, log, cycleID, target.Name, res.Saved, batch[0].ScrapedAt)
	}

	res.State = event.StateDone
	res.Duration = w.deps.Clock.Now().Sub(started)
	log.Info("backend batch saved",
		zap.Int("records", res.Saved),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("dur", res.Duration))
	w.emit(progress.Event{
		CycleID: cid, TS: w.deps.Clock.Now(), Stage: progress.StageBackendDone,
		Backend: target.Name, URL: target.URL, Records: int64(res.Saved), Bytes: res.Bytes, Dur: res.Duration,
	})
	return res
}

func (w *Worker) emit(evt progress.Event) {
	w.deps.Emitter.Emit(evt)
}

// archive stores the raw body; failures are logged only.
func (w *Worker) archive(ctx context.Context, log *zap.Logger, cycleID, backendName string, body []byte) {
	if w.deps.Blobs == nil || w.deps.Hasher == nil {
		return
	}
	sum, err := w.deps.Hasher.Hash(body)
	if err != nil {
		log.Warn("hash raw payload failed", zap.Error(err))
		return
	}
	uri, err := w.deps.Blobs.PutObject(ctx, w.blobPath(cycleID, backendName, sum), w.cfg.ContentType, body)
	if err != nil {
		log.Warn("archive raw payload failed", zap.Error(err))
		return
	}
	log.Debug("raw payload archived", zap.String("uri", uri), zap.Int("bytes", len(body)))
}

func (w *Worker) blobPath(cycleID, backendName, sum string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	return path.Join(prefix, cycleID, backendName, sum+".json")
}

// notify publishes the batch notification; failures are logged only.
func (w *Worker) notify(ctx context.Context, log *zap.Logger, cycleID, backendName string, saved int, at time.Time) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	msg := event.BatchNotification{CycleID: cycleID, Backend: backendName, Saved: saved, ScrapedAt: at}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, msg)
	if err != nil {
		log.Warn("publish batch notification failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	log.Debug("batch notification published", zap.String("message_id", id))
}
