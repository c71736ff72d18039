package cmd

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docrank/docrank/internal/app"
	"github.com/docrank/docrank/internal/output"
)

// statsOptions holds CLI flags for stats.
type statsOptions struct {
	jsonOutput bool
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	opts := &statsOptions{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show collection, model, and cache statistics",
		Long: `Stats collects counters from the vector collection, both inference
services, the search index, the cache, and the durable store when one
is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *statsOptions) error {
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

	stats := a.Diag.CollectStats(ctx)

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	renderStats(output.New(cmd.OutOrStdout()), stats)
	return nil
}

// renderStats prints the statistics report section by section.
func renderStats(out *output.Writer, stats app.StatsReport) {
	out.Header("Collection")
	out.Field("name", "%s", stats.Collection.Collection)
	out.Field("chunks", "%d", stats.Collection.TotalChunks)
	out.Field("distance metric", "%s", stats.Collection.DistanceMetric)
	out.Newline()

	out.Header("Models")
	out.Field("embedding", "%s (%d dims, available: %t)", stats.Embedding.Model, stats.Embedding.Dimension, stats.Embedding.Available)
	out.Field("reranking", "%s (max length %d, available: %t)", stats.Reranking.Model, stats.Reranking.MaxLength, stats.Reranking.Available)
	out.Field("keywords", "%s (available: %t)", stats.Keywords.ModelName, stats.Keywords.Available)
	out.Newline()

	out.Header("Search")
	out.Field("methods", "%s", strings.Join(stats.Search.SearchMethods, ", "))
	out.Field("bm25", "initialized: %t, documents: %d, rebuilds: %d", stats.Search.BM25Initialized, stats.Search.BM25DocsCount, stats.Search.BM25Rebuilds)
	out.Field("weights", "vector %.2f / bm25 %.2f", stats.Search.DefaultWeights.Vector, stats.Search.DefaultWeights.BM25)
	out.Newline()

	out.Header("Cache")
	out.Field("result keys", "%d", stats.Cache.ResultKeys)
	out.Field("bm25 keys", "%d", stats.Cache.BM25Keys)
	if stats.Cache.MemoryUsed != "" {
		out.Field("memory used", "%s", stats.Cache.MemoryUsed)
	}
	out.Newline()

	if stats.Documents != nil {
		out.Header("Documents")
		out.Field("total", "%d", stats.Documents.TotalDocuments)
		for _, status := range sortedKeys(stats.Documents.DocumentsByStatus) {
			out.Field(status, "%d", stats.Documents.DocumentsByStatus[status])
		}
		out.Field("chunks", "%d", stats.Documents.TotalChunks)
		out.Field("access levels", "%v", stats.Documents.AccessLevels)
		out.Newline()
	}

	out.Header("Processors")
	for _, ext := range sortedKeys(stats.Processors) {
		out.Field(ext, "%s", stats.Processors[ext])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
