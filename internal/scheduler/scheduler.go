// Package scheduler runs the periodic scrape and cleanup jobs on cron
// expressions (six fields, seconds first).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/event"
)

// CycleRunner starts one scrape cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (event.CycleReport, error)
}

// Cleaner performs one retention pass.
type Cleaner interface {
	Run(ctx context.Context) (int64, error)
}

// Config names the cron expressions and their timezone.
type Config struct {
	ScrapeCron  string
	CleanupCron string
	Location    *time.Location
}

const (
	scrapeJobName  = "scrape-cycle"
	cleanupJobName = "retention-cleanup"
)

// Scheduler owns a gocron scheduler with the two ingestor jobs. A run still in
// progress when its next tick fires pushes that tick back rather than overlapping.
type Scheduler struct {
	inner  gocron.Scheduler
	jobs   map[string]gocron.Job
	logger *zap.Logger
}

// New registers both jobs. Job bodies run with ctx, so canceling it aborts
// in-flight work started by the scheduler.
func New(ctx context.Context, cfg Config, cycles CycleRunner, cleaner Cleaner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	inner, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{inner: inner, jobs: make(map[string]gocron.Job, 2), logger: logger}

	scrape := func() error {
		report, err := cycles.RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info("scheduled scrape finished", zap.String("cycle_id", report.CycleID), zap.Int("total", report.Total))
		return nil
	}
	cleanup := func() error {
		_, err := cleaner.Run(ctx)
		return err
	}

	if err := s.add(scrapeJobName, cfg.ScrapeCron, scrape); err != nil {
		_ = inner.Shutdown()
		return nil, err
	}
	if err := s.add(cleanupJobName, cfg.CleanupCron, cleanup); err != nil {
		_ = inner.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(name, expr string, task func() error) error {
	job, err := s.inner.NewJob(
		gocron.CronJob(expr, true),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(jobID uuid.UUID, jobName string, err error) {
				s.logger.Error("scheduled job failed",
					zap.String("job", jobName),
					zap.String("job_id", jobID.String()),
					zap.Error(err))
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	s.jobs[name] = job
	return nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.inner.Start()
	for name, job := range s.jobs {
		next, err := job.NextRun()
		if err != nil {
			continue
		}
		s.logger.Info("job scheduled", zap.String("job", name), zap.Time("next_run", next))
	}
}

// NextRun reports when the named job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	job, ok := s.jobs[name]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown job %q", name)
	}
	return job.NextRun()
}

// Shutdown stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Shutdown() error {
	if err := s.inner.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
