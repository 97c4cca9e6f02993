package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mark3labs/reelsmith/internal/config"
	"github.com/mark3labs/reelsmith/internal/jobapi"
	"github.com/mark3labs/reelsmith/internal/joblog"
	"github.com/mark3labs/reelsmith/internal/logger"
	"github.com/mark3labs/reelsmith/internal/nats"
	"github.com/mark3labs/reelsmith/internal/tracker"
	"github.com/mark3labs/reelsmith/internal/tui/flow"
)

var watchFlags struct {
	api      string
	headless bool
	record   bool
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow an existing generation job",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var cancelFlags struct {
	api string
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Ask the backend to cancel a generation job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var historyCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Print the recorded progress of a job",
	Long: `Print the snapshots recorded for a job by 'create --record' or
'watch --record', oldest first.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.api, "api", "", "Job API base URL (default: api_url from config)")
	watchCmd.Flags().BoolVar(&watchFlags.headless, "headless", false, "Print progress lines instead of the TUI")
	watchCmd.Flags().BoolVar(&watchFlags.record, "record", false, "Append snapshots to the local progress log")

	cancelCmd.Flags().StringVar(&cancelFlags.api, "api", "", "Job API base URL (default: api_url from config)")
}

func newClient(cfg *config.Config) (*jobapi.Client, error) {
	return jobapi.New(cfg.APIURL, jobapi.WithRateLimit(cfg.RequestsPerSecond))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchFlags.api != "" {
		cfg.APIURL = watchFlags.api
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return track(ctx, cfg, client, args[0], trackOptions{
		headless: watchFlags.headless,
		record:   watchFlags.record,
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cancelFlags.api != "" {
		cfg.APIURL = cancelFlags.api
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.FetchTimeout)
	defer cancel()
	if err := client.Cancel(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for job %s\n", args[0])
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog, err := openJobLog(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	history, err := log.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Printf("No progress recorded for job %s\n", args[0])
		return nil
	}
	for _, snap := range history {
		line := fmt.Sprintf("%s  %-10s %5.1f%%", snap.FetchedAt.Local().Format(time.DateTime), snap.Status, snap.Percent())
		if snap.Error != "" {
			line += "  " + snap.Error
		}
		fmt.Println(line)
	}
	return nil
}

// openJobLog starts the embedded NATS server under the data dir.
func openJobLog(ctx context.Context, cfg *config.Config) (*joblog.Store, func(), error) {
	dir := filepath.Join(cfg.DataDir, "nats")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}
	bus, err := nats.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	log, err := joblog.New(ctx, bus.JS)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return log, func() {
		if err := bus.Close(); err != nil {
			logger.Warn("Closing progress log: %v", err)
		}
	}, nil
}

type trackOptions struct {
	headless bool
	record   bool
}

// track polls jobID until it settles, the user detaches, or ctx ends.
func track(ctx context.Context, cfg *config.Config, client *jobapi.Client, jobID string, opts trackOptions) error {
	tr := tracker.New(client,
		tracker.WithInterval(cfg.PollInterval),
		tracker.WithFetchTimeout(cfg.FetchTimeout),
		tracker.WithMaxBackoff(cfg.MaxBackoff),
	)
	defer tr.Stop()

	if opts.record {
		log, closeLog, err := openJobLog(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		snaps, unsubscribe := tr.Subscribe()
		recorded := make(chan struct{})
		go func() {
			defer close(recorded)
			_ = log.Record(context.WithoutCancel(ctx), snaps)
		}()
		// Runs before closeLog: stop feeding the recorder and let it finish.
		defer func() {
			unsubscribe()
			<-recorded
		}()
	}

	var (
		final tracker.Snapshot
		err   error
	)
	if opts.headless {
		final, err = trackHeadless(ctx, tr, jobID)
	} else {
		final, err = trackTUI(ctx, tr, jobID)
	}
	if err != nil {
		return err
	}
	return report(jobID, final)
}

func trackHeadless(ctx context.Context, tr *tracker.Tracker, jobID string) (tracker.Snapshot, error) {
	return tr.WatchFunc(ctx, jobID, func(snap tracker.Snapshot) {
		fmt.Printf("%s  %-10s %5.1f%%\n", snap.FetchedAt.Local().Format(time.TimeOnly), snap.Status, snap.Percent())
	})
}

func trackTUI(ctx context.Context, tr *tracker.Tracker, jobID string) (tracker.Snapshot, error) {
	updates, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	if err := tr.Start(ctx, jobID); err != nil {
		return tracker.Snapshot{}, err
	}

	view := flow.NewProgress(jobID, updates, func() error {
		// Polling stops even if the request fails; closing the
		// subscription lets the view exit.
		defer unsubscribe()
		return tr.Cancel(context.WithoutCancel(ctx), jobID)
	})
	final, err := flow.RunProgress(ctx, view)
	tr.Stop()
	switch {
	case err != nil:
		return tracker.Snapshot{}, err
	case view.Cancelled():
		return tracker.Snapshot{JobID: jobID, Status: tracker.StatusCancelled}, nil
	case view.CancelErr() != nil:
		return tracker.Snapshot{}, view.CancelErr()
	case !final.Status.IsTerminal():
		fmt.Printf("Stopped following job %s; resume with 'reelsmith watch %s'\n", jobID, jobID)
	}
	return final, nil
}

func report(jobID string, snap tracker.Snapshot) error {
	switch snap.Status {
	case tracker.StatusDone:
		fmt.Printf("Job %s done", jobID)
		if snap.ResultURL != "" {
			fmt.Printf(": %s", snap.ResultURL)
		}
		fmt.Println()
	case tracker.StatusFailed:
		msg := snap.Error
		if msg == "" {
			msg = "no reason given"
		}
		return fmt.Errorf("job %s failed: %s", jobID, msg)
	case tracker.StatusCancelled:
		fmt.Printf("Job %s cancelled\n", jobID)
	}
	return nil
}
