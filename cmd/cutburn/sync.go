package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/config"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/dashboard"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/queue"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/syncengine"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Inspect and drive background sync",
}

// statusView is the structured form of 'sync status'.
type statusView struct {
	syncengine.Status
	Driver   string       `json:"driver"`
	Queue    []queue.Item `json:"queue"`
	Rejected []queue.Item `json:"rejected"`
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and pending writes",
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat()
		s := mustOpenSession(context.Background())

		view := statusView{
			Status:   s.settle(),
			Driver:   s.cfg.Remote.Driver,
			Queue:    s.engine.Pending(),
			Rejected: s.engine.DeadLetters(),
		}
		s.Close()

		if err := ui.Print(os.Stdout, format, view, func(w io.Writer) error {
			printStatus(w, view)
			return nil
		}); err != nil {
			exitf("%v", err)
		}
	},
}

var syncDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued writes now",
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat()
		s := mustOpenSession(context.Background())

		if !s.monitor.Online() {
			status := s.settle()
			s.Close()
			fmt.Printf("%s Remote unreachable; %d writes stay queued\n", ui.RenderWarn("⚠"), status.Pending)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		report, err := s.engine.Drain(ctx)
		cancel()
		if err != nil {
			s.fail("drain failed: %v", err)
		}
		status := s.settle()
		s.Close()

		if err := ui.Print(os.Stdout, format, report, func(w io.Writer) error {
			fmt.Fprintf(w, "%s Applied %d, retained %d, rejected %d\n",
				ui.RenderPass("✓"), report.Applied, report.Retained+report.Blocked, report.Rejected)
			if status.LastError != "" && report.Retained > 0 {
				fmt.Fprintf(w, "  %s %s\n", ui.RenderWarn("last error:"), status.LastError)
			}
			return nil
		}); err != nil {
			exitf("%v", err)
		}
	},
}

var syncRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Retry writes the remote rejected",
	Long: `Move rejected (dead-letter) writes back into the pending queue and
replay them when the remote is reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		s := mustOpenSession(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		n, err := s.engine.Requeue(ctx)
		cancel()
		if err != nil {
			s.fail("requeue failed: %v", err)
		}
		status := s.settle()
		s.Close()

		fmt.Printf("%s Requeued %d writes (%d pending, %d rejected)\n",
			ui.RenderPass("✓"), n, status.Pending, status.DeadLetters)
	},
}

var syncClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop pending and rejected writes",
	Long: `Drop every pending and rejected write for the user. Local records are
kept unless --forget is given, which also removes them (e.g. at logout).`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		forget, _ := cmd.Flags().GetBool("forget")

		s := mustOpenSession(context.Background())
		status := s.settle()

		if !force {
			what := fmt.Sprintf("%d pending and %d rejected writes will never reach the remote.", status.Pending, status.DeadLetters)
			if forget {
				what += " Local records are deleted too."
			}
			ok, err := ui.Confirm("Clear sync queue?", what)
			if err != nil {
				s.fail("%v", err)
			}
			if !ok {
				s.Close()
				fmt.Println("Cancelled")
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var err error
		if forget {
			err = s.repo.Forget(ctx)
		} else {
			err = s.engine.Clear(ctx)
		}
		if err != nil {
			s.fail("%v", err)
		}
		s.Close()

		fmt.Printf("%s Cleared %d pending and %d rejected writes\n", ui.RenderPass("✓"), status.Pending, status.DeadLetters)
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Refresh local records from the remote",
	Long: `Fetch the profile and days from the remote and adopt each remote copy
that is newer than the local one. Records with a pending local write are
skipped. Without --date, every locally known day plus today is pulled.`,
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat()
		dateFlags, _ := cmd.Flags().GetStringSlice("date")

		var dates []string
		for _, d := range dateFlags {
			dates = append(dates, mustParseDay(d))
		}

		s := mustOpenSession(context.Background())
		if len(dates) == 0 {
			known, err := s.repo.ListDays(s.cfg.UserID)
			if err != nil {
				s.fail("%v", err)
			}
			dates = known
			if today := schema.FormatDate(time.Now()); !contains(dates, today) {
				dates = append(dates, today)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		report, err := s.repo.Hydrate(ctx, dates...)
		cancel()
		if errors.Is(err, syncengine.ErrNoRemote) {
			s.fail("no remote configured (set remote.driver)")
		}
		if err != nil {
			s.fail("pull failed: %v", err)
		}
		s.Close()

		if err := ui.Print(os.Stdout, format, report, func(w io.Writer) error {
			fmt.Fprintf(w, "%s Updated %d, skipped %d, missing %d\n",
				ui.RenderPass("✓"), len(report.Updated), len(report.Skipped), len(report.Missing))
			for _, k := range report.Updated {
				fmt.Fprintf(w, "  %s %s\n", ui.RenderPass("↓"), k)
			}
			return nil
		}); err != nil {
			exitf("%v", err)
		}
	},
}

var syncDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background sync with a live status feed",
	Long: `Run the sync engine in the foreground: probe the remote periodically,
replay queued writes whenever it becomes reachable, and serve the status
feed for UIs.

Status feed endpoints:
  GET /status   JSON snapshot (connectivity, pending, last sync)
  GET /health   liveness
  GET /ws       WebSocket stream of connectivity, pending,
                sync_complete and dead_letter messages

Changes to the config file are picked up while running; connectivity
settings apply immediately, other sections need a restart.

Example:
  cutburn sync daemon --port 8787`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, loader := loadConfig()
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		logOut := cfg.Log.Writer()
		logger := config.NewLogger(logOut, "daemon")

		s, err := openSession(context.Background(), cfg, logOut)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:           cfg.Dashboard.Port,
			Host:           cfg.Dashboard.Host,
			AllowedOrigins: cfg.Dashboard.AllowedOrigins,
			Status:         func() any { return s.engine.Status() },
			Logger:         config.NewLogger(logOut, "dashboard"),
		})
		handler := dashboard.NewHandler(server, config.NewLogger(logOut, "dashboard"))
		unsubscribe := s.engine.Subscribe(handler.OnEvent)

		if err := server.Start(); err != nil {
			unsubscribe()
			s.fail("failed to start status feed: %v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		stopProber := startProber(ctx, s)

		reloads := make(chan *config.Config, 1)
		if err := loader.Watch(func(next *config.Config, err error) {
			if err != nil {
				logger.Printf("WARNING: ignoring invalid config change: %v", err)
				return
			}
			select {
			case reloads <- next:
			default:
			}
		}); err == nil {
			logger.Printf("Watching %s for changes", loader.ConfigFileUsed())
		}

		status := s.engine.Status()
		fmt.Printf("%s cutburn sync daemon for %s  %s %s\n", ui.RenderAccent("⟳"), cfg.UserID,
			ui.ConnectivityBadge(status.Online), ui.PendingBadge(status.Pending, status.DeadLetters))
		fmt.Printf("Status feed: http://%s/status\n", server.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case next := <-reloads:
				if cmd.Flags().Changed("port") {
					next.Dashboard.Port = cfg.Dashboard.Port
				}
				changed := config.Changed(cfg, next)
				if len(changed) == 0 {
					continue
				}
				logger.Printf("Config sections changed: %s", strings.Join(changed, ", "))
				for _, section := range changed {
					switch section {
					case "connectivity":
						stopProber()
						s.cfg.Connectivity = next.Connectivity
						stopProber = startProber(ctx, s)
					default:
						logger.Printf("WARNING: %s changes apply after restart", section)
					}
				}
				cfg = next
			}
		}

		fmt.Println("\nShutting down sync daemon...")
		stopProber()
		unsubscribe()
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		s.Close()
		fmt.Println("Sync daemon stopped")
	},
}

func init() {
	syncClearCmd.Flags().BoolP("force", "f", false, "Skip confirmation")
	syncClearCmd.Flags().Bool("forget", false, "Also delete local records")
	syncPullCmd.Flags().StringSlice("date", nil, "Days to pull: YYYY-MM-DD or e.g. \"yesterday\" (repeatable)")
	syncDaemonCmd.Flags().IntP("port", "p", 8787, "Status feed port (overrides dashboard.port)")

	syncCmd.AddCommand(syncStatusCmd, syncDrainCmd, syncRequeueCmd, syncClearCmd, syncPullCmd, syncDaemonCmd)
	rootCmd.AddCommand(syncCmd)
}

// startProber runs the session's prober until the returned stop function is
// called. It is a no-op without a remote.
func startProber(ctx context.Context, s *session) (stop func()) {
	if s.prober == nil {
		return func() {}
	}
	s.prober.Interval = s.cfg.Connectivity.ProbeInterval
	s.prober.Timeout = s.cfg.Connectivity.ProbeTimeout

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.prober.Run(pctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func printStatus(w io.Writer, v statusView) {
	fmt.Fprintf(w, "%s %s\n", ui.RenderAccent("Sync status for"), ui.RenderBold(v.UserID))

	remote := v.Driver
	if !v.Remote {
		remote = ui.RenderWarn("not configured")
	}
	fmt.Fprintf(w, "  Remote:     %s  %s\n", remote, ui.ConnectivityBadge(v.Online))
	fmt.Fprintf(w, "  Pending:    %d\n", v.Pending)
	if v.DeadLetters > 0 {
		fmt.Fprintf(w, "  Rejected:   %s\n", ui.RenderFail(fmt.Sprint(v.DeadLetters)))
	}
	if !v.LastSync.IsZero() {
		fmt.Fprintf(w, "  Last sync:  %s\n", v.LastSync.Local().Format("2006-01-02 15:04:05"))
	}
	if v.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s\n", ui.RenderWarn(v.LastError))
	}

	if len(v.Queue) > 0 {
		fmt.Fprintf(w, "\n%s\n", ui.RenderBold("Queued writes"))
		for _, it := range v.Queue {
			printItem(w, it)
		}
	}
	if len(v.Rejected) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", ui.RenderBold("Rejected writes"), ui.RenderMuted("(cutburn sync requeue to retry)"))
		for _, it := range v.Rejected {
			printItem(w, it)
		}
	}
}

func printItem(w io.Writer, it queue.Item) {
	line := fmt.Sprintf("  %-8s %-28s %s", it.Kind, it.Key, ui.RenderMuted(it.EnqueuedAt.Local().Format("01-02 15:04")))
	if it.Attempts > 0 {
		line += ui.RenderMuted(fmt.Sprintf("  attempts=%d", it.Attempts))
	}
	if it.LastError != "" {
		line += "  " + ui.RenderWarn(it.LastError)
	}
	fmt.Fprintln(w, line)
}
