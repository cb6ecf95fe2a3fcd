// Package suspend implements a time-boxed pause of activity tracking.
package suspend

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MaxDuration is the longest timed pause. Longer requests pause until the
// process restarts.
const MaxDuration = 365 * 24 * time.Hour

type Status struct {
	Paused     bool
	Indefinite bool
	ResumeAt   time.Time // zero when not paused or indefinite
}

// Window is a pause deadline checked by the tracker on every tick.
type Window struct {
	clock clockwork.Clock

	mu         sync.Mutex
	paused     bool
	indefinite bool
	resumeAt   time.Time
	timer      clockwork.Timer
}

func New(clock clockwork.Clock) *Window {
	return &Window{clock: clock}
}

// Suspend pauses tracking for the given number of minutes, replacing any
// earlier pause. minutes <= 0 resumes immediately.
func (w *Window) Suspend(minutes float64) Status {
	if math.IsNaN(minutes) || minutes <= 0 {
		w.Resume()
		return w.Status()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimer()

	w.paused = true
	if math.IsInf(minutes, 1) || minutes >= MaxDuration.Minutes() {
		w.indefinite = true
		w.resumeAt = time.Time{}
		log.Println("Tracking suspended until next launch.")
		return w.statusLocked()
	}

	d := time.Duration(minutes * float64(time.Minute))
	w.indefinite = false
	w.resumeAt = w.clock.Now().Add(d)
	deadline := w.resumeAt
	w.timer = w.clock.AfterFunc(d, func() { w.expire(deadline) })
	log.Printf("Tracking suspended for %s (until %s).", d, w.resumeAt.Format(time.Kitchen))
	return w.statusLocked()
}

func (w *Window) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	wasPaused := w.paused
	w.stopTimer()
	w.clear()
	if wasPaused {
		log.Println("Tracking resumed.")
	}
}

// Active reports whether tracking is suspended at now.
func (w *Window) Active(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		return false
	}
	return w.indefinite || now.Before(w.resumeAt)
}

func (w *Window) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusLocked()
}

// Stop releases the pending resume timer, if any.
func (w *Window) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimer()
}

// expire is the deferred resume callback. It ignores deadlines that a later
// Suspend call has replaced.
func (w *Window) expire(deadline time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused || w.indefinite || !w.resumeAt.Equal(deadline) {
		return
	}
	w.timer = nil
	w.clear()
	log.Println("Suspend window elapsed, tracking resumed.")
}

func (w *Window) statusLocked() Status {
	if !w.paused || (!w.indefinite && !w.clock.Now().Before(w.resumeAt)) {
		return Status{}
	}
	return Status{Paused: true, Indefinite: w.indefinite, ResumeAt: w.resumeAt}
}

func (w *Window) clear() {
	w.paused = false
	w.indefinite = false
	w.resumeAt = time.Time{}
}

func (w *Window) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
