// Package handlers wires the CLI commands to the pipeline packages.
package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"watchdog/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "News-article ingestion and classification for an accountability corpus",
	Long: `watchdog discovers article URLs from a publication's RSS feeds and
historical archive, extracts and classifies each article with LLM
classifiers, and stores the relevant ones with their normalized
entities in PostgreSQL.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main. An interrupt
// cancels the command context; in-flight batch work drains and the
// partial report is still written.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.watchdog.yaml)")

	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(NewMigrateCmd())
}

// loadConfig loads configuration honoring the --config flag. Commands
// call this at the start of their RunE rather than via OnInitialize so
// that flag-only commands (help, completion) never require a config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
