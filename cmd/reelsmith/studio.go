package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mark3labs/reelsmith/internal/logger"
	"github.com/mark3labs/reelsmith/internal/studio"
)

var studioFlags struct {
	addr   string
	step   time.Duration
	failAt float64
	db     string
}

var studioCmd = &cobra.Command{
	Use:   "studio",
	Short: "Serve a local generation backend for development",
	Long: `Serve the job endpoints backed by a SQLite file. A simulator advances
each queued job one segment per --step. Nothing is actually rendered.

Use --fail-at to make jobs fail once they reach a percentage.`,
	RunE: runStudio,
}

func init() {
	studioCmd.Flags().StringVar(&studioFlags.addr, "addr", "", "Listen address (default: studio_addr from config)")
	studioCmd.Flags().DurationVar(&studioFlags.step, "step", time.Second, "Time between simulated segments")
	studioCmd.Flags().Float64Var(&studioFlags.failAt, "fail-at", 0, "Fail jobs at this percentage (0 = never)")
	studioCmd.Flags().StringVar(&studioFlags.db, "db", "", "SQLite file (default: <data_dir>/studio.db)")
}

func runStudio(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := studioFlags.addr
	if addr == "" {
		addr = cfg.StudioAddr
	}
	dbPath := studioFlags.db
	if dbPath == "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		dbPath = filepath.Join(cfg.DataDir, "studio.db")
	}

	store, err := studio.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	baseURL := "http://" + addr
	if strings.HasPrefix(addr, ":") {
		baseURL = "http://localhost" + addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := &studio.Simulator{Jobs: store, Step: studioFlags.step, FailAt: studioFlags.failAt, BaseURL: baseURL}
	go func() { _ = sim.Run(ctx) }()

	srv := &http.Server{
		Addr:              addr,
		Handler:           studio.Server{Jobs: store, BaseURL: baseURL}.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	fmt.Printf("Studio listening on %s (db: %s)\n", baseURL, dbPath)
	logger.Info("Studio listening on %s", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("studio server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
