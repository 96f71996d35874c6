// Command vetdir runs the veteran resource directory: the admin API with
// the job scheduler, one-off job runs and job inspection.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/GGPrompts/vibe4vets-sub003/directory"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "vetdir",
	Short:   "Veteran resource directory",
	Version: version,
	Long: `Aggregates veteran resources from configured connectors, keeps their
trust scores and links fresh on a schedule, and serves the admin API.`,
	Example: `  # Run the API and the scheduler
  $ vetdir serve -c directory.yaml

  # Preview a refresh without writing
  $ vetdir run refresh --dry-run

  # Show job schedules
  $ vetdir jobs`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", env("DIRECTORY_CONFIG", ""), "YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	logger := newLogger(env("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openService loads the config and builds the service. The scheduler is
// left stopped; serve starts it.
func openService() (*directory.Service, *directory.Config, error) {
	cfg, err := directory.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	svc, err := directory.New(cfg, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
