package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mark3labs/reelsmith/internal/jobapi"
	"github.com/mark3labs/reelsmith/internal/tui/flow"
)

var createFlags struct {
	api      string
	target   string
	title    string
	headless bool
	record   bool
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Plan a production and start generating it",
	Long: `Walk through the production wizard, submit the brief as a generation
job and follow it until it settles.

Progress is shown in a TUI unless --headless is set.`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createFlags.api, "api", "", "Job API base URL (default: api_url from config)")
	createCmd.Flags().StringVarP(&createFlags.target, "target", "t", "", "Project or storyboard the job belongs to (required)")
	createCmd.Flags().StringVar(&createFlags.title, "title", "", "Production title (default: target)")
	createCmd.Flags().BoolVar(&createFlags.headless, "headless", false, "Print progress lines instead of the TUI")
	createCmd.Flags().BoolVar(&createFlags.record, "record", false, "Append snapshots to the local progress log")
	_ = createCmd.MarkFlagRequired("target")
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if createFlags.api != "" {
		cfg.APIURL = createFlags.api
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brief, err := flow.Run(ctx)
	if errors.Is(err, flow.ErrCancelled) {
		fmt.Println("Cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("encoding brief: %w", err)
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	title := strings.TrimSpace(createFlags.title)
	if title == "" {
		title = createFlags.target
	}
	job, err := client.Start(ctx, jobapi.StartRequest{
		TargetID: createFlags.target,
		Kind:     brief.Kind,
		Title:    title,
		Brief:    raw,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Started %s job %s (%d shots)\n", brief.Kind, job.ID, len(brief.Shots))

	return track(ctx, cfg, client, job.ID, trackOptions{
		headless: createFlags.headless,
		record:   createFlags.record,
	})
}
