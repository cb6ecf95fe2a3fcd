package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"text/tabwriter"
	"time"

	"timeinsight/internal/activity"
	"timeinsight/internal/config"
	"timeinsight/internal/ipc"
	"timeinsight/internal/suspend"

	sqlitestore "timeinsight/internal/storage/sqlite"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "timeinsight-cli",
	Short: "CLI tool to interact with the Time Insight daemon",
	Long:  `A command-line interface to pause, resume and query the running Time Insight daemon via its Unix socket, and to list recorded activities and sessions from its database.`,
}

// --- Client Helper Function ---
func sendCommand(out io.Writer, cmd ipc.Command) (ipc.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("error connecting to daemon socket (%s): %w\nIs the Time Insight daemon running?", socketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return ipc.Response{}, fmt.Errorf("error sending command: %w", err)
	}

	var resp ipc.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipc.Response{}, fmt.Errorf("error receiving response: %w", err)
	}

	if !resp.Success {
		return resp, fmt.Errorf("%s", resp.Message)
	}
	fmt.Fprintln(out, "Success:", resp.Message)
	if resp.Data != nil {
		prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
		if err == nil {
			fmt.Fprintln(out, "Data:")
			fmt.Fprintln(out, string(prettyData))
		} else {
			fmt.Fprintln(out, "Data (raw):", resp.Data)
		}
	}
	return resp, nil
}

func runCommand(name string, args interface{}) func(cmd *cobra.Command, _ []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		_, err := sendCommand(cmd.OutOrStdout(), ipc.Command{Name: name, Args: args})
		return err
	}
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the Time Insight daemon is running",
	RunE:  runCommand(ipc.CmdPing, nil),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current activity, session and pause state",
	RunE:  runCommand(ipc.CmdGetStatus, nil),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume tracking after a pause",
	RunE:  runCommand(ipc.CmdResume, nil),
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause tracking for a number of minutes (until restart when omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, _ := cmd.Flags().GetFloat64("minutes")
		if minutes <= 0 || math.IsNaN(minutes) {
			return fmt.Errorf("--minutes must be positive, got %v", minutes)
		}
		return runCommand(ipc.CmdPause, ipc.PauseArgs{Minutes: minutes})(cmd, args)
	},
}

// dayRange covers the last days calendar days in now's location, today included.
func dayRange(now time.Time, days int) (time.Time, time.Time) {
	if days < 1 {
		days = 1
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return midnight.AddDate(0, 0, -(days - 1)), midnight.AddDate(0, 0, 1)
}

// openStore opens the daemon's database read-only; listings never write.
func openStore(ctx context.Context) (*sqlitestore.SQLiteStore, error) {
	store := sqlitestore.NewSQLiteStore(dbPath)
	if err := store.InitReadOnly(ctx); err != nil {
		return nil, fmt.Errorf("%w (has the daemon run? use --db)", err)
	}
	return store, nil
}

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "List recorded application activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		from, to := dayRange(time.Now(), days)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		acts, err := store.ActivitiesBetween(ctx, from, to)
		if err != nil {
			return err
		}
		return printActivities(cmd.OutOrStdout(), acts)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded user sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		from, to := dayRange(time.Now(), days)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.SessionsBetween(ctx, from, to)
		if err != nil {
			return err
		}
		return printSessions(cmd.OutOrStdout(), sessions)
	},
}

func formatInstant(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d *float64, open bool) string {
	if open {
		return "open"
	}
	if d == nil {
		return "-"
	}
	return (time.Duration(*d * float64(time.Second))).Round(time.Second).String()
}

func printActivities(out io.Writer, acts []activity.ApplicationActivity) error {
	if len(acts) == 0 {
		fmt.Fprintln(out, "No activity found for the specified period.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tDURATION\tAPPLICATION\tWINDOW")
	for _, a := range acts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatInstant(a.SessionStart), formatInstant(a.SessionEnd),
			formatDuration(a.Duration, a.Open()), a.ApplicationName, a.WindowName)
	}
	return w.Flush()
}

func printSessions(out io.Writer, sessions []activity.UserSession) error {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found for the specified period.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tDURATION\tTYPE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			formatInstant(s.SessionStart), formatInstant(s.SessionEnd),
			formatDuration(s.Duration, s.Open()), s.Type)
	}
	return w.Flush()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", ipc.DefaultSocketPath, "Path to the daemon's Unix socket")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDatabasePath(), "Path to the Time Insight database file")

	pauseCmd.Flags().Float64P("minutes", "m", suspend.MaxDuration.Minutes(), "Minutes to pause for (one year or more pauses until the daemon restarts)")
	activitiesCmd.Flags().IntP("days", "d", 1, "Number of calendar days to list, today included")
	sessionsCmd.Flags().IntP("days", "d", 1, "Number of calendar days to list, today included")

	rootCmd.AddCommand(pingCmd, statusCmd, pauseCmd, resumeCmd, activitiesCmd, sessionsCmd)
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		log.SetFlags(0)
		log.Fatalf("Error: %v", err)
	}
}
