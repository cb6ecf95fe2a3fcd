package collector

import (
	"context"

	"timeinsight/internal/activity"
)

// WindowObserver reports the current foreground window.
// It returns a nil observation when no window has focus; fields it cannot
// read (e.g. a privileged process) are left empty.
type WindowObserver interface {
	CurrentForegroundWindow(ctx context.Context) (*activity.Observation, error)
}

// ObserverFunc adapts a plain function to WindowObserver.
type ObserverFunc func(ctx context.Context) (*activity.Observation, error)

func (f ObserverFunc) CurrentForegroundWindow(ctx context.Context) (*activity.Observation, error) {
	return f(ctx)
}
