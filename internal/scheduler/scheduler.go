// Package scheduler runs the periodic harvest/dedup/solr-update/queue-cleanup
// jobs of daemon mode (spec §9, "can also run continuously as a daemon").
// It wraps gocron the way the teacher's internal/scheduler wraps it, but the
// jobs themselves are supplied by the caller rather than built in: this
// package only knows about cron expressions, singleton execution, and
// logging, not about harvesting or dedup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is one named, schedulable unit of recurring work. Name is used as the
// gocron tag and in log output; CronExpr is a standard 5-field cron
// expression; Run is invoked with a background context on each tick.
type Job struct {
	Name     string
	CronExpr string
	Run      func(ctx context.Context) error
}

// Scheduler wraps gocron.Scheduler and runs each registered Job in
// singleton mode: if a previous tick of the same job is still running when
// the next one fires, the new tick is skipped rather than overlapping.
type Scheduler struct {
	cron gocron.Scheduler
	log  *zap.Logger
}

// New creates a Scheduler. Call AddJob for each periodic task, then Start.
func New(log *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}
	return &Scheduler{cron: s, log: log.Named("scheduler")}, nil
}

// AddJob registers job under its cron expression. An empty CronExpr is a
// no-op, so callers can pass through unset recordmanager.ini entries
// directly without a separate enabled/disabled check.
func (s *Scheduler) AddJob(job Job) error {
	if job.CronExpr == "" {
		s.log.Info("job disabled, no cron expression configured", zap.String("job", job.Name))
		return nil
	}

	_, err := s.cron.NewJob(
		gocron.CronJob(job.CronExpr, false),
		gocron.NewTask(func() {
			start := time.Now()
			s.log.Info("job starting", zap.String("job", job.Name))
			if err := job.Run(context.Background()); err != nil {
				s.log.Error("job failed", zap.String("job", job.Name), zap.Error(err), zap.Duration("elapsed", time.Since(start)))
				return
			}
			s.log.Info("job finished", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)))
		}),
		gocron.WithTags(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: add job %s (schedule %q): %w", job.Name, job.CronExpr, err)
	}
	return nil
}

// Start begins executing registered jobs on their schedules. Non-blocking;
// gocron runs ticks on its own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Jobs())))
}

// Stop waits for any in-flight job run to finish, then shuts the scheduler
// down. Call once during graceful shutdown.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	s.log.Info("scheduler stopped")
	return nil
}
