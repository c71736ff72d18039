package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docrank/docrank/internal/app"
	"github.com/docrank/docrank/internal/output"
	"github.com/docrank/docrank/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	accessLevel int
	topK        int
	rerankTopK  int
	format      string
	showContext bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search against the knowledge base",
		Long: `Search runs the retrieval pipeline in process: BM25 and vector
retrieval, reciprocal rank fusion, cross-encoder reranking, and the
adaptive relevance filter. Results are scoped to the given access level.

Examples:
  docrank search "отпуск по уходу за ребенком"
  docrank search "price list" --access-level 20 --top-k 30
  docrank search "командировочные расходы" --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, root, opts, args[0])
		},
	}

	cmd.Flags().IntVarP(&opts.accessLevel, "access-level", "a", 1, "access level of the caller (1-100)")
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "candidates per retrieval leg (default from config)")
	cmd.Flags().IntVar(&opts.rerankTopK, "rerank-top-k", 0, "results kept after reranking (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format (text, json)")
	cmd.Flags().BoolVar(&opts.showContext, "show-context", false, "print the assembled context block")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *searchOptions, query string) error {
	if opts.accessLevel < 1 || opts.accessLevel > 100 {
		return fmt.Errorf("access level must be between 1 and 100, got %d", opts.accessLevel)
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (expected text or json)", opts.format)
	}

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

	params := a.Retriever.Params()
	if opts.topK > 0 {
		params.TopK = opts.topK
	}
	if opts.rerankTopK > 0 {
		params.RerankTopK = opts.rerankTopK
	}

	report, err := a.Retriever.HybridSearch(ctx, query, opts.accessLevel, params)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	formatSearchReport(output.New(cmd.OutOrStdout()), report, opts.showContext)
	return nil
}

// formatSearchReport renders one search report for a terminal.
func formatSearchReport(out *output.Writer, report *search.Report, showContext bool) {
	styles := out.Styles()

	if len(report.Sources) == 0 {
		if report.RelevanceFiltered {
			out.Statusf("🔍", "No sufficiently relevant results for %q (best score %.2f)", report.Query, report.BestScore)
		} else {
			out.Statusf("🔍", "No results found for %q", report.Query)
		}
		return
	}

	timing := fmt.Sprintf("%.0f ms", report.SearchTimeMS)
	if report.FromCache {
		timing += ", cached"
	}
	out.Header(fmt.Sprintf("Found %d results for %q (%s)", len(report.Sources), report.Query, timing))
	out.Newline()

	for i, src := range report.Sources {
		title := src.DocumentTitle
		if title == "" {
			title = src.ChunkID
		}
		out.Statusf("", "%d. %s %s", i+1, styles.Accent.Render(fmt.Sprintf("(%.2f)", src.RerankScore)), title)
		out.Status("", styles.Dim.Render(snippet(src.Text, 160)))
		out.Newline()
	}

	if showContext && report.Context != "" {
		out.Header("Context")
		for _, line := range strings.Split(report.Context, "\n") {
			out.Status("", line)
		}
	}
}

// snippet collapses whitespace and truncates to at most max runes.
func snippet(text string, max int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= max {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
