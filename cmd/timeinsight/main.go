package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"timeinsight/internal/app"
	"timeinsight/internal/config"

	"github.com/sevlyar/go-daemon"
)

var (
	configPath = flag.String("c", "", "Path to configuration file (e.g., config.yaml). Defaults to ./config.yaml, ~/.config/timeinsight/config.yaml, /etc/timeinsight/config.yaml")
	logPath    = flag.String("log", "", "Path to log file (optional, defaults to stderr)")
	daemonize  = flag.Bool("d", false, "Run in the background as a daemon (pid and log files next to the database)")
)

// setupLogging configures the log output destination.
func setupLogging(logFilePath string) (*os.File, error) {
	if logFilePath == "" {
		log.SetOutput(os.Stderr)
		log.Println("Logging to stderr")
		return nil, nil
	}

	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	log.SetOutput(file)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Printf("Logging to file: %s", logFilePath)
	return file, nil
}

// daemonContext places the pid file (and, without -log, the log file) next
// to the database.
func daemonContext(cfg *config.Config) *daemon.Context {
	dir := filepath.Dir(cfg.DatabasePath)
	logFile := *logPath
	if logFile == "" {
		logFile = filepath.Join(dir, "timeinsight.log")
	}
	return &daemon.Context{
		PidFileName: filepath.Join(dir, "timeinsight.pid"),
		PidFilePerm: 0644,
		LogFileName: logFile,
		LogFilePerm: 0640,
		WorkDir:     "./",
		Umask:       027,
	}
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}
}

// run holds every deferred cleanup; only main exits.
func run() error {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if *daemonize {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0750); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		cntxt := daemonContext(cfg)
		child, err := cntxt.Reborn()
		if err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
		if child != nil {
			log.Printf("Time Insight daemon started (pid %d)", child.Pid)
			return nil
		}
		defer func() {
			if err := cntxt.Release(); err != nil {
				log.Printf("Warning: failed to release pid file: %v", err)
			}
		}()
	}

	logFile, logErr := setupLogging(*logPath)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Error setting up file logging: %v. Logging to stderr instead.\n", logErr)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Run records the shutdown session itself before returning.
	if err := application.Run(); err != nil {
		return fmt.Errorf("application exited with error: %w", err)
	}

	log.Println("Time Insight finished successfully.")
	return nil
}
