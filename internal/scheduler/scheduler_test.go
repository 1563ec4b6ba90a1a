package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/pipeline"
)

type fakeRunner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRunner) RunCycle(ctx context.Context) (*models.CycleReport, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return models.NewCycleReport(time.Now()), nil
}

func TestNextRun(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)

	tests := []struct {
		name     string
		now      time.Time
		hour     int
		minute   int
		expected time.Time
	}{
		{
			"Before todays slot",
			time.Date(2025, time.August, 29, 8, 0, 0, 0, msk),
			9, 30,
			time.Date(2025, time.August, 29, 9, 30, 0, 0, msk),
		},
		{
			"After todays slot",
			time.Date(2025, time.August, 29, 10, 0, 0, 0, msk),
			9, 30,
			time.Date(2025, time.August, 30, 9, 30, 0, 0, msk),
		},
		{
			"Exactly at the slot",
			time.Date(2025, time.August, 29, 9, 30, 0, 0, msk),
			9, 30,
			time.Date(2025, time.August, 30, 9, 30, 0, 0, msk),
		},
		{
			"UTC now converts into the schedule zone",
			time.Date(2025, time.August, 29, 5, 0, 0, 0, time.UTC), // 08:00 MSK
			9, 30,
			time.Date(2025, time.August, 29, 9, 30, 0, 0, msk),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := NextRun(tc.now, msk, tc.hour, tc.minute)
			assert.True(t, tc.expected.Equal(next), "expected %v, got %v", tc.expected, next)
		})
	}
}

func TestRunOnce(t *testing.T) {
	runner := &fakeRunner{}
	require.NoError(t, New(runner).RunOnce(context.Background()))
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestRunOnceReturnsCycleError(t *testing.T) {
	boom := errors.New("cycle failed")
	runner := &fakeRunner{err: boom}
	assert.ErrorIs(t, New(runner).RunOnce(context.Background()), boom)
}

func TestRunEveryRunsImmediatelyAndOnTicks(t *testing.T) {
	runner := &fakeRunner{}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := New(runner).RunEvery(ctx, 20*time.Millisecond)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, runner.calls.Load(), int32(2))
}

func TestRunEverySurvivesCycleFailures(t *testing.T) {
	runner := &fakeRunner{err: errors.New("transient")}
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := New(runner).RunEvery(ctx, 20*time.Millisecond)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, runner.calls.Load(), int32(2))
}

func TestRunEveryToleratesOverlapSignal(t *testing.T) {
	runner := &fakeRunner{err: pipeline.ErrCycleInProgress}
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := New(runner).RunEvery(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunDailyRunOnStart(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner)
	// Pin the clock just after the slot so the next run is a day away.
	s.now = func() time.Time {
		return time.Date(2025, time.August, 29, 10, 0, 0, 0, time.UTC)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.RunDaily(ctx, time.UTC, 9, 30, true)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestRunDailyWithoutRunOnStartWaits(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner)
	s.now = func() time.Time {
		return time.Date(2025, time.August, 29, 10, 0, 0, 0, time.UTC)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.RunDaily(ctx, time.UTC, 9, 30, false)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), runner.calls.Load())
}
