// Package tracker keeps the open ApplicationActivity row in step with the
// foreground window.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"timeinsight/internal/activity"
	"timeinsight/internal/collector"
	"timeinsight/internal/storage"
	"timeinsight/internal/suspend"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"
)

// EventSource tags every activity opened by the poll loop.
const EventSource = "Foreground"

type Tracker struct {
	store    storage.Store
	observer collector.WindowObserver
	clock    clockwork.Clock
	pause    *suspend.Window
	debug    bool
}

type Option func(*Tracker)

// WithSuspendWindow makes Tick skip polling while w is active.
func WithSuspendWindow(w *suspend.Window) Option {
	return func(t *Tracker) { t.pause = w }
}

// WithDebug logs every skipped tick.
func WithDebug(debug bool) Option {
	return func(t *Tracker) { t.debug = debug }
}

func New(store storage.Store, observer collector.WindowObserver, clock clockwork.Clock, opts ...Option) *Tracker {
	t := &Tracker{store: store, observer: observer, clock: clock}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run polls every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	log.Printf("Starting activity tracker (interval: %s)", interval)
	ticker := t.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Activity tracker stopping due to context cancellation.")
			return ctx.Err()
		case <-ticker.Chan():
			t.Tick(ctx)
		}
	}
}

// Tick runs one poll unless tracking is suspended. Errors and panics are
// logged and swallowed; the next tick is the retry.
func (t *Tracker) Tick(ctx context.Context) {
	if t.pause != nil && t.pause.Active(t.clock.Now()) {
		return
	}

	var pc panics.Catcher
	pc.Try(func() {
		if err := t.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Error recording activity: %v", err)
		}
	})
	if r := pc.Recovered(); r != nil {
		log.Printf("Error: activity tick panicked: %v", r.AsError())
	}
}

// Poll records one observation of the foreground window.
func (t *Tracker) Poll(ctx context.Context) error {
	obs, err := t.observer.CurrentForegroundWindow(ctx)
	if err != nil {
		if t.debug {
			log.Printf("Debug: skipping tick, observer failed: %v", err)
		}
		return nil
	}
	if !obs.Complete() {
		if t.debug {
			log.Printf("Debug: skipping tick, incomplete observation: %+v", obs)
		}
		return nil
	}

	now := activity.Now(t.clock)
	return t.store.WithinTx(ctx, func(tx storage.Tx) error {
		app, err := tx.FindApplicationByName(ctx, obs.ProcessName)
		if err != nil {
			return err
		}
		if app == nil {
			app, err = tx.CreateApplication(ctx, obs.ProcessName, obs.ProcessName, obs.ProcessPath, now)
			if err != nil {
				return err
			}
			log.Printf("New application enrolled: %s (%s)", app.Name, app.Path)
		}

		last, err := tx.LastActivity(ctx)
		if err != nil {
			return err
		}
		if last.Open() && last.WindowName == obs.Title {
			return nil
		}
		if last.Open() {
			if err := tx.CloseActivity(ctx, last, now); err != nil {
				return err
			}
		}

		info := fmt.Sprintf("%s, PID: %d", EventSource, obs.ProcessID)
		if _, err := tx.OpenActivity(ctx, app.ID, obs.Title, info, now); err != nil {
			return err
		}
		log.Printf("Focus Changed: App='%s', Title='%s'", app.Name, truncate(obs.Title, 80))
		return nil
	})
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
