// Package cmd provides the CLI commands for docrank.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docrank/docrank/internal/config"
	"github.com/docrank/docrank/internal/logging"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configDir string
	logLevel  string
	logFile   string
}

// NewRootCmd creates the root command for the docrank CLI.
func NewRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "docrank",
		Short: "Hybrid document retrieval for Russian-language corpora",
		Long: `docrank ingests office documents into a vector collection and answers
queries over them with hybrid retrieval: BM25 and semantic search fused
with reciprocal rank fusion, reranked by a cross-encoder, filtered by
access level.

Run 'docrank serve' to start the task worker, or use the subcommands to
ingest and query directly.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("docrank version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configDir, "config-dir", "C", ".", "Directory holding docrank.yaml and .env")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Minimum log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Mirror logs to a rotating file")

	cmd.AddCommand(newServeCmd(&opts))
	cmd.AddCommand(newIngestCmd(&opts))
	cmd.AddCommand(newSearchCmd(&opts))
	cmd.AddCommand(newDeleteCmd(&opts))
	cmd.AddCommand(newHealthCmd(&opts))
	cmd.AddCommand(newStatsCmd(&opts))
	cmd.AddCommand(newConfigCmd(&opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig builds the effective configuration and applies the
// persistent flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	return cfg, nil
}

// newLogger builds the logger for one command run. Interactive commands
// pass quiet=true, which raises the stderr threshold to warn unless the
// operator asked for a level explicitly.
func newLogger(cfg *config.Config, opts *rootOptions, quiet bool) (*slog.Logger, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.FilePath = cfg.Log.File
	if quiet && opts.logLevel == "" {
		logCfg.Level = "warn"
	}
	return logging.Setup(logCfg)
}
