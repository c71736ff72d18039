package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/docrank/docrank/internal/app"
	"github.com/docrank/docrank/internal/output"
	"github.com/docrank/docrank/internal/ui"
)

// healthOptions holds CLI flags for health.
type healthOptions struct {
	jsonOutput bool
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	opts := &healthOptions{}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every backend and report service health",
		Long: `Health probes the vector store, connection pool, cache, durable store,
and both inference services, then prints a per-component report. The
command exits nonzero when the service is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runHealth(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *healthOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger, cleanup, err := newLogger(cfg, root, true)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.Diag.CheckHealth(ctx)

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderHealth(output.New(cmd.OutOrStdout()), report)
	}

	if report.Status == app.StatusUnhealthy {
		return fmt.Errorf("service unhealthy")
	}
	return nil
}

// renderHealth prints one line per component. The status column is padded
// before styling because ANSI escapes would break printf widths.
func renderHealth(out *output.Writer, report app.HealthReport) {
	styles := out.Styles()

	out.Header(fmt.Sprintf("docrank health: %s", report.Status))
	out.Newline()

	line := func(name, status, detail string) {
		padded := fmt.Sprintf("%-10s", status)
		text := fmt.Sprintf("%-12s %s", name, styleStatus(styles, status).Render(padded))
		if detail != "" {
			text += " " + styles.Dim.Render(detail)
		}
		out.Status("", strings.TrimRight(text, " "))
	}

	vectorDetail := report.Vector.Error
	if vectorDetail == "" {
		vectorDetail = fmt.Sprintf("collection %s, %d chunks", report.Vector.Collection, report.Vector.TotalChunks)
	}
	line("chromadb", report.Vector.Status, vectorDetail)

	poolStatus := app.StatusUnhealthy
	if report.Pool.Healthy {
		poolStatus = app.StatusHealthy
	}
	line("pool", poolStatus, fmt.Sprintf("%d connections, %d active", report.Pool.TotalConnections, report.Pool.ActiveConnections))

	line("cache", report.Cache.Status, "")

	dbDetail := report.Database.Error
	if dbDetail == "" && !report.Database.Configured {
		dbDetail = "not configured"
	}
	line("database", report.Database.Status, dbDetail)

	line("embedding", report.Embedding.Status, report.Embedding.Model)
	line("reranking", report.Reranking.Status, report.Reranking.Model)

	out.Newline()
	out.Field("supported formats", "%s", strings.Join(report.SupportedExtensions, ", "))
}

// styleStatus picks the style for a health grade.
func styleStatus(styles ui.Styles, status string) lipgloss.Style {
	switch status {
	case app.StatusHealthy:
		return styles.Success
	case app.StatusDegraded:
		return styles.Warning
	case app.StatusUnhealthy:
		return styles.Error
	default:
		return styles.Dim
	}
}
