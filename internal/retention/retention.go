// Package retention removes events that have aged out of the store.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/event"
	"github.com/bmsevents/event-ingestor/internal/metrics"
)

// Deleter is the slice of event.Store the job needs.
type Deleter interface {
	DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job deletes events scraped more than MaxAge ago.
type Job struct {
	store  Deleter
	clock  event.Clock
	maxAge time.Duration
	logger *zap.Logger
}

// New creates a Job keeping maxAgeDays worth of events.
func New(store Deleter, clock event.Clock, maxAgeDays int, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		store:  store,
		clock:  clock,
		maxAge: time.Duration(maxAgeDays) * 24 * time.Hour,
		logger: logger,
	}
}

// Cutoff returns the scrapedAt bound below which events are removed.
func (j *Job) Cutoff() time.Time {
	return j.clock.Now().Add(-j.maxAge)
}

// Run performs one pass and returns the number of deleted events.
func (j *Job) Run(ctx context.Context) (int64, error) {
	cutoff := j.Cutoff()
	n, err := j.store.DeleteScrapedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention pass failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, fmt.Errorf("delete events scraped before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.ObserveRetentionDeleted(n)
	j.logger.Info("retention pass completed", zap.Time("cutoff", cutoff), zap.Int64("deleted", n))
	return n, nil
}
