// Package cron runs the collector on a fixed interval.
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Runner invokes a Job every interval, starting immediately. Runs never
// overlap.
type Runner struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	job       Job
	logger    *slog.Logger
}

// NewRunner creates a Runner for job.
func NewRunner(interval time.Duration, job Job, logger *slog.Logger) *Runner {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Runner{
		scheduler: s,
		interval:  interval,
		job:       job,
		logger:    logger,
	}
}

// Start schedules the job and starts the scheduler in the background. ctx is
// passed to every run, so cancelling it aborts the run in progress.
func (r *Runner) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("cron: interval must be positive")
	}

	_, err := r.scheduler.Every(r.interval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		r.logger.Debug("scheduled run starting")
		if err := r.job(ctx); err != nil {
			r.logger.Warn("scheduled run ended with error", "error", err)
		}
	})
	if err != nil {
		return err
	}

	r.logger.Info("scheduler started", "interval", r.interval)
	r.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler; no further runs start.
func (r *Runner) Stop() {
	r.scheduler.Stop()
	r.logger.Info("scheduler stopped")
}
