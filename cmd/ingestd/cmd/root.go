// Package cmd provides the CLI commands for ingestd.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kbforge/ingestd/internal/config"
	"github.com/kbforge/ingestd/internal/logging"
	"github.com/kbforge/ingestd/pkg/version"
)

var (
	configPath     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ingestd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingestd",
		Short: "Document ingestion and hybrid retrieval pipeline",
		Long: `ingestd pulls document jobs from a durable queue, extracts text,
chunks it, embeds it and indexes it into a hybrid (dense + sparse)
vector store.

Run 'ingestd worker' to start the ingestion workers, 'ingestd serve'
for the extraction HTTP service, and 'ingestd enqueue' to submit a
document by hand.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("ingestd version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")

	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig loads configuration and installs the configured logger as
// the process default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		WriteToStderr: cfg.Logging.ToStderr,
	})
	if err != nil {
		return nil, err
	}
	loggingCleanup = cleanup

	slog.Debug("configuration loaded", slog.String("config", configPath))
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
