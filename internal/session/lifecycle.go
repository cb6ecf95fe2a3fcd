// Package session brackets machine usage in Active and Sleep user sessions.
//
// Every transition closes whatever activity and session were left open, then
// opens the next session, in one transaction. Rows left open by a crash are
// therefore reconciled by the next transition, with its start as their end.
package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"timeinsight/internal/activity"
	"timeinsight/internal/storage"

	"github.com/jonboulle/clockwork"
)

type Lifecycle struct {
	store storage.Store
	clock clockwork.Clock
}

func NewLifecycle(store storage.Store, clock clockwork.Clock) *Lifecycle {
	return &Lifecycle{store: store, clock: clock}
}

// OnStart closes leftovers from the previous run and opens an Active session.
func (l *Lifecycle) OnStart(ctx context.Context) error {
	return l.transition(ctx, "start", activity.SessionActive)
}

// OnEnd closes the open activity and session and opens a Sleep session.
func (l *Lifecycle) OnEnd(ctx context.Context) error {
	return l.transition(ctx, "end", activity.SessionSleep)
}

// OnScheduledBoundary cuts the current Active session so no session spans
// more than one schedule slot.
func (l *Lifecycle) OnScheduledBoundary(ctx context.Context) error {
	return l.transition(ctx, "boundary", activity.SessionActive)
}

func (l *Lifecycle) transition(ctx context.Context, hook string, next activity.SessionType) error {
	now := activity.Now(l.clock)
	var opened *activity.UserSession

	err := l.store.WithinTx(ctx, func(tx storage.Tx) error {
		last, err := tx.LastActivity(ctx)
		if err != nil {
			return err
		}
		if last.Open() {
			if err := tx.CloseActivity(ctx, last, now); err != nil {
				return err
			}
		}

		prev, err := tx.LastSession(ctx)
		if err != nil {
			return err
		}
		if prev.Open() {
			if err := tx.CloseSession(ctx, prev, now); err != nil {
				return err
			}
		}

		opened, err = tx.OpenSession(ctx, next, now)
		return err
	})
	if err != nil {
		log.Printf("Error: session %s hook failed: %v", hook, err)
		return fmt.Errorf("session %s: %w", hook, err)
	}
	log.Printf("Session %s: opened %s session %d at %s", hook, next, opened.ID, now.Format(time.RFC3339))
	return nil
}
