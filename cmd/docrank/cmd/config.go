package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/docrank/docrank/configs"
	"github.com/docrank/docrank/internal/config"
	"github.com/docrank/docrank/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Manage the docrank.yaml configuration file.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. docrank.yaml in the config directory
  3. .env in the config directory
  4. Environment variables (CHROMADB_URL, REDIS_URL, DATABASE_URL, ...)`,
		Example: `  # Create docrank.yaml from the template
  docrank config init

  # Show the effective configuration
  docrank config show

  # Print the config file path
  docrank config path`,
	}

	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd(root))

	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Create docrank.yaml in the config directory from the embedded
template. Every active value in the template matches the built-in
defaults, so the file changes nothing until edited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, root, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging defaults, docrank.yaml, .env,
and environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, root, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := filepath.Abs(filepath.Join(root.configDir, "docrank.yaml"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, root *rootOptions, force bool) error {
	out := output.New(cmd.OutOrStdout())

	configPath := filepath.Join(root.configDir, "docrank.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		out.Warning("configuration already exists")
		out.Field("location", "%s", configPath)
		out.Status("💡", "Use --force to overwrite with the template")
		return nil
	}

	if err := os.MkdirAll(root.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", root.configDir, err)
	}
	if err := os.WriteFile(configPath, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("created configuration")
	out.Field("location", "%s", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, root *rootOptions, jsonOutput bool, source string) error {
	var (
		cfg        *config.Config
		sourceDesc string
		err        error
	)

	switch source {
	case "merged":
		cfg, err = loadConfig(root)
		if err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("merged (defaults + %s + .env + environment)", filepath.Join(root.configDir, "docrank.yaml"))
	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (built in)"
	default:
		return fmt.Errorf("invalid source %q (use merged or defaults)", source)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("📋", "configuration source: %s", sourceDesc)
	out.Newline()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
