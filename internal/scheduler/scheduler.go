package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per scheduled day.
type TickFunc func(ctx context.Context, scheduled time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// RunAt is the offset from local midnight of the daily run.
	RunAt        time.Duration
	Location     *time.Location
	StartupDelay time.Duration
	// RunOnStart fires one tick immediately before waiting for the first slot.
	RunOnStart bool
}

// Scheduler fires a job once a day at a fixed local wall-clock time.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.RunAt < 0 || opts.RunAt >= 24*time.Hour {
		panic("scheduler run_at must be within a day")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{opts: opts, now: time.Now, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function each day until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, s.now().In(s.opts.Location))
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := s.NextRun(s.now())
		timer := time.NewTimer(time.Until(next))
		s.logger.Info().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, tick, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, scheduled time.Time) {
	s.logger.Info().Time("scheduled", scheduled).Msg("executing scheduled run")
	if err := tick(ctx, scheduled); err != nil {
		s.logger.Error().Err(err).Time("scheduled", scheduled).Msg("scheduled run failed")
	}
}

// NextRun returns the first run slot strictly after now, in the scheduler's location.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	next := s.slot(local.Year(), local.Month(), local.Day())
	if !next.After(local) {
		next = s.slot(local.Year(), local.Month(), local.Day()+1)
	}
	return next
}

// slot builds the wall-clock run time for a calendar day so DST shifts keep the local hour.
func (s *Scheduler) slot(year int, month time.Month, day int) time.Time {
	h := int(s.opts.RunAt / time.Hour)
	m := int((s.opts.RunAt % time.Hour) / time.Minute)
	return time.Date(year, month, day, h, m, 0, 0, s.opts.Location)
}
