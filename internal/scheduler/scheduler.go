// Package scheduler fires a callback at fixed wall-clock times given by a
// standard five-field cron expression.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// HalfHourly fires at minute 0 and 30 of every hour.
const HalfHourly = "0,30 * * * *"

// MaxLateness is how late a slot may fire. Slots missed by more (the host
// slept through them) are dropped, not backfilled.
const MaxLateness = time.Minute

type Scheduler struct {
	expr     string
	schedule cron.Schedule
	clock    clockwork.Clock
	fn       func(ctx context.Context)

	lastFired time.Time
}

// Parse validates a schedule expression.
func Parse(expr string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

func New(expr string, clock clockwork.Clock, fn func(ctx context.Context)) (*Scheduler, error) {
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{expr: expr, schedule: s, clock: clock, fn: fn}, nil
}

// Next returns the first slot strictly after t. Slots are wall-clock times
// in t's location.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled, invoking fn once per slot.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("Starting scheduler (%s)", s.expr)
	for {
		now := s.clock.Now()
		slot := s.Next(now)
		timer := s.clock.NewTimer(slot.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("Scheduler stopping due to context cancellation.")
			return ctx.Err()
		case <-timer.Chan():
			s.fire(ctx, slot)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, slot time.Time) {
	if !s.lastFired.IsZero() && !slot.After(s.lastFired) {
		return // already fired for this slot
	}
	if late := s.clock.Now().Sub(slot); late > MaxLateness {
		log.Printf("Warning: missed scheduled slot %s by %s, skipping", slot.Format(time.RFC3339), late.Round(time.Second))
		s.lastFired = slot
		return
	}
	s.lastFired = slot
	s.fn(ctx)
}
