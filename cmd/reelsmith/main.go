package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mark3labs/reelsmith/internal/config"
	"github.com/mark3labs/reelsmith/internal/logger"
)

// Version set via ldflags during build
var version = "dev"

func main() {
	defer func() { _ = logger.Close() }()

	loadDotEnv()

	if err := fang.Execute(context.Background(), rootCmd, fang.WithVersion(version)); err != nil {
		logger.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reelsmith",
	Short: "Plan video productions and follow their generation jobs",
	Long: `reelsmith walks you through a production brief (type, shotlist, cast and
world, audio, export), submits it to a generation backend and follows the
job until it is done, failed or cancelled.

Run 'reelsmith studio' for a local backend that simulates generation.`,
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(studioCmd)
	rootCmd.AddCommand(setupCmd)
}

// loadDotEnv reads ./.env into the environment. Variables already set win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Ignoring .env: %v", err)
	}
}

// loadConfig loads configuration and applies its logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, err
	}
	return cfg, nil
}
