package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timeinsight/internal/activity"
	"timeinsight/internal/collector"
	"timeinsight/internal/collector/x11"
	"timeinsight/internal/config"
	"timeinsight/internal/ipc"
	"timeinsight/internal/scheduler"
	"timeinsight/internal/session"
	"timeinsight/internal/storage"
	"timeinsight/internal/suspend"
	"timeinsight/internal/tracker"

	sqlitestore "timeinsight/internal/storage/sqlite"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

type App struct {
	cfg      *config.Config
	clock    clockwork.Clock
	storage  storage.Store
	observer collector.WindowObserver // nil disables activity tracking

	tracker   *tracker.Tracker
	sessions  *session.Lifecycle
	scheduler *scheduler.Scheduler
	pause     *suspend.Window

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	// started is set once OnStart ran; only then does cleanup record OnEnd.
	started bool

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp builds the daemon from configuration: a SQLite store at
// cfg.DatabasePath and, when configured and reachable, the X11 observer.
func NewApp(cfg *config.Config) (*App, error) {
	store := sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	if err := store.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var observer collector.WindowObserver
	if cfg.Observer == config.ObserverX11 {
		x, err := x11.NewX11Observer()
		if err != nil {
			log.Printf("Warning: Failed to initialize X11 observer: %v. Activity tracking disabled.", err)
		} else {
			observer = x
		}
	}

	a, err := New(cfg, clockwork.NewRealClock(), store, observer)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// New wires an App around an initialized store. observer may be nil.
func New(cfg *config.Config, clock clockwork.Clock, store storage.Store, observer collector.WindowObserver) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		clock:      clock,
		storage:    store,
		observer:   observer,
		sessions:   session.NewLifecycle(store, clock),
		pause:      suspend.New(clock),
		socketPath: cfg.SocketPath,
		ctx:        ctx,
		cancel:     cancel,
	}

	if observer != nil {
		a.tracker = tracker.New(store, observer, clock,
			tracker.WithSuspendWindow(a.pause),
			tracker.WithDebug(cfg.Debug))
	}

	sched, err := scheduler.New(cfg.BoundarySchedule, clock, func(ctx context.Context) {
		// Errors are logged by the lifecycle; the next slot retries.
		_ = a.sessions.OnScheduledBoundary(ctx)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	a.scheduler = sched
	return a, nil
}

// Shutdown asks a running App to stop. Run returns after cleanup.
func (a *App) Shutdown() {
	a.cancel()
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	// Check if socket file exists and try connecting
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			// Connection successful - another instance is likely running
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer log.Println("Socket command listener stopped.")

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return // Expected error on shutdown
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Failed to accept connection: %v", err)
			time.Sleep(100 * time.Millisecond) // Avoid tight loop on persistent error
			continue
		}
		a.wg.Go(func() { a.handleConnection(conn) })
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)
	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdPause:
		var args ipc.PauseArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.Minutes <= 0 {
			return ipc.Response{Success: false, Message: "Pause duration must be positive"}
		}
		st := a.pause.Suspend(args.Minutes)
		if st.Indefinite {
			return ipc.Response{Success: true, Message: "Tracking paused until restart"}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("Tracking paused until %s", st.ResumeAt.Local().Format(time.Kitchen))}

	case ipc.CmdResume:
		a.pause.Resume()
		return ipc.Response{Success: true, Message: "Tracking resumed"}

	case ipc.CmdGetStatus:
		status, err := a.status(a.ctx)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to read status: %v", err)}
		}
		return ipc.Response{Success: true, Data: status}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

func (a *App) status(ctx context.Context) (ipc.StatusData, error) {
	st := a.pause.Status()
	data := ipc.StatusData{
		Tracking:      a.tracker != nil,
		Paused:        st.Paused,
		PausedForever: st.Indefinite,
	}
	if st.Paused && !st.Indefinite {
		data.ResumeAt = st.ResumeAt.UTC().Format(time.RFC3339)
	}

	now := activity.Now(a.clock)
	err := a.storage.WithinTx(ctx, func(tx storage.Tx) error {
		last, err := tx.LastActivity(ctx)
		if err != nil {
			return err
		}
		if last.Open() {
			data.CurrentWindow = last.WindowName
			if last.SessionStart != nil {
				data.ActivitySince = last.SessionStart.Format(time.RFC3339)
			}
			app, err := tx.FindApplicationByID(ctx, last.ApplicationID)
			if err != nil {
				return err
			}
			if app != nil {
				data.CurrentApp = app.Name
			}
		}

		us, err := tx.LastSession(ctx)
		if err != nil {
			return err
		}
		if us.Open() {
			data.SessionType = us.Type.String()
			if us.SessionStart != nil {
				data.SessionSince = us.SessionStart.Format(time.RFC3339)
				data.SessionSeconds, _ = activity.Duration(*us.SessionStart, now)
			}
		}
		return nil
	})
	return data, err
}

// Helper function to convert map[string]interface{} (from json unmarshal) to struct
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}

// Run starts the tracker, the boundary scheduler and the command socket, and
// blocks until Shutdown or SIGINT/SIGTERM. The shutdown hook (OnEnd) runs in
// the deferred cleanup, so it also runs when a component fails.
func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting Time Insight tracker...")
	if a.tracker == nil {
		log.Println("Activity tracking: DISABLED (no window observer)")
	} else {
		log.Println("Activity tracking: ENABLED")
	}

	// Single-instance check comes before any session row is written.
	if err := a.setupSocket(); err != nil {
		return fmt.Errorf("failed to set up socket: %w", err)
	}

	a.handleSignals()

	// Errors are logged by the lifecycle; tracking continues regardless.
	_ = a.sessions.OnStart(a.ctx)
	a.started = true

	if a.tracker != nil {
		a.wg.Go(func() {
			err := a.tracker.Run(a.ctx, a.cfg.PollInterval())
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Activity tracker error: %v", err)
			}
		})
	}

	a.wg.Go(func() {
		err := a.scheduler.Run(a.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Scheduler error: %v", err)
		}
	})

	a.wg.Go(a.listenForCommands)

	log.Println("Time Insight daemon running. Send commands via timeinsight-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")

	// Close the listener *before* waiting for goroutines to allow accept() to return
	log.Println("Closing command socket listener...")
	if err := a.listener.Close(); err != nil {
		log.Printf("Error closing socket listener: %v", err)
	}

	waitChan := make(chan struct{})
	go func() {
		if r := a.wg.WaitAndRecover(); r != nil {
			log.Printf("Error: component panicked: %v", r.AsError())
		}
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	return nil
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v. Initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
	}()
}

// cleanup records the shutdown session transition and releases resources.
func (a *App) cleanup() {
	log.Println("Running cleanup...")
	a.cancel()

	if a.started {
		endCtx, endCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.sessions.OnEnd(endCtx)
		endCancel()
	}

	a.pause.Stop()

	var errs error
	if c, ok := a.observer.(io.Closer); ok {
		errs = multierr.Append(errs, c.Close())
	}
	if a.storage != nil {
		errs = multierr.Append(errs, a.storage.Close())
	}

	// --- Remove Socket File ---
	if a.listener != nil {
		if _, err := os.Stat(a.socketPath); err == nil {
			log.Printf("Removing socket file: %s", a.socketPath)
			if err := os.Remove(a.socketPath); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to remove socket file %s: %w", a.socketPath, err))
			}
		}
	}

	for _, err := range multierr.Errors(errs) {
		log.Printf("Warning: cleanup: %v", err)
	}
	log.Println("Cleanup finished.")
}
