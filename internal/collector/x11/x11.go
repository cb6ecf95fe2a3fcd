package x11

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"timeinsight/internal/activity"
	"timeinsight/internal/collector"

	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
)

type X11Observer struct {
	X *xgbutil.XUtil
	// procRoot is where per-process executables are resolved, normally /proc.
	procRoot string
}

var _ collector.WindowObserver = (*X11Observer)(nil)

func NewX11Observer() (*X11Observer, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	// Check if EWMH is supported (needed for _NET_ACTIVE_WINDOW, _NET_WM_PID)
	if _, err := ewmh.CurrentDesktopGet(X); err != nil {
		log.Printf("Warning: EWMH potentially not supported by Window Manager: %v", err)
	}

	return &X11Observer{X: X, procRoot: "/proc"}, nil
}

func (o *X11Observer) CurrentForegroundWindow(ctx context.Context) (*activity.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	activeWinID, err := ewmh.ActiveWindowGet(o.X)
	if err != nil {
		return nil, fmt.Errorf("could not get active window ID: %w", err)
	}
	if activeWinID == 0 {
		return nil, nil // No window focused
	}

	// _NET_WM_NAME preferred, fallback to WM_NAME
	title, err := ewmh.WmNameGet(o.X, activeWinID)
	if err != nil || title == "" {
		title, _ = icccm.WmNameGet(o.X, activeWinID)
	}

	obs := &activity.Observation{Title: strings.TrimSpace(title)}

	pid, err := ewmh.WmPidGet(o.X, activeWinID)
	if err != nil || pid == 0 {
		// Window does not advertise its owner; leave process fields empty.
		return obs, nil
	}
	obs.ProcessID = int(pid)
	obs.ProcessPath, obs.ProcessName = o.processExecutable(obs.ProcessID)
	return obs, nil
}

// processExecutable resolves the executable of pid. Both results are empty
// when the process is gone or belongs to another user.
func (o *X11Observer) processExecutable(pid int) (path, name string) {
	path, err := os.Readlink(filepath.Join(o.procRoot, fmt.Sprint(pid), "exe"))
	if err != nil {
		return "", ""
	}
	path = strings.TrimSuffix(path, " (deleted)")
	return path, filepath.Base(path)
}

func (o *X11Observer) Close() error {
	o.X.Conn().Close()
	return nil
}
