// Package scheduler triggers processing cycles in one of three modes: a
// single run, a fixed interval, or once a day at a configured local time.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/pipeline"
)

var log = logrus.New()

// SetLogger sets a custom logger for this package.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Runner is the unit of work the scheduler triggers once per tick.
type Runner interface {
	RunCycle(ctx context.Context) (*models.CycleReport, error)
}

// Scheduler drives a Runner according to the configured mode.
type Scheduler struct {
	runner Runner
	now    func() time.Time
}

// New creates a scheduler for the runner.
func New(runner Runner) *Scheduler {
	return &Scheduler{runner: runner, now: time.Now}
}

// RunOnce executes exactly one cycle and returns its error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.runner.RunCycle(ctx)
	return err
}

// RunEvery runs a cycle immediately and then on every interval tick until
// the context is cancelled. Cycle failures are logged, not fatal: the next
// tick starts from a clean slate.
func (s *Scheduler) RunEvery(ctx context.Context, interval time.Duration) error {
	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// RunDaily runs a cycle at hour:minute in loc every day until the context
// is cancelled. With runOnStart set it also runs one cycle immediately.
func (s *Scheduler) RunDaily(ctx context.Context, loc *time.Location, hour, minute int, runOnStart bool) error {
	if runOnStart {
		s.tick(ctx)
	}

	for {
		next := NextRun(s.now(), loc, hour, minute)
		log.WithField("next_run", next.Format(time.RFC3339)).Info("Waiting for next scheduled run")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, pipeline.ErrCycleInProgress):
		log.Warn("Skipping tick, previous cycle still running")
	case err != nil:
		log.WithError(err).Error("Processing cycle failed")
	case report != nil && !report.Succeeded():
		log.Warn(report.Summary())
	}
}

// NextRun returns the next instant the daily schedule fires: today at
// hour:minute in loc, or the same time tomorrow when that has passed.
func NextRun(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
