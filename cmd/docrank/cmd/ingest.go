package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docrank/docrank/internal/app"
	"github.com/docrank/docrank/internal/output"
	"github.com/docrank/docrank/internal/store"
	"github.com/docrank/docrank/internal/worker"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	documentID  string
	title       string
	accessLevel int
	sync        bool
	wait        time.Duration
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a document",
		Long: `Queue a document for processing, or process it in place with --sync.

The file must be reachable by the worker under the same path. Supported
formats: .docx, .csv, .json.

Examples:
  docrank ingest reports/regulation.docx --access-level 20
  docrank ingest prices.csv --sync
  docrank ingest handbook.docx --wait 2m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.documentID, "id", "", "Document id (defaults to a fresh UUID; reuse an id to reprocess)")
	cmd.Flags().StringVar(&opts.title, "title", "", "Document title (defaults to the file name)")
	cmd.Flags().IntVarP(&opts.accessLevel, "access-level", "a", 1, "Access level required to read the document (1-100)")
	cmd.Flags().BoolVar(&opts.sync, "sync", false, "Process in this process instead of queueing")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "Wait this long for the queued task to finish")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, root *rootOptions, file string, opts ingestOptions) error {
	if opts.accessLevel < 1 || opts.accessLevel > 100 {
		return fmt.Errorf("access level must be between 1 and 100, got %d", opts.accessLevel)
	}
	path, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("document file: %w", err)
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

	out := output.New(cmd.OutOrStdout())

	docID := opts.documentID
	if docID == "" {
		docID = uuid.NewString()
	}
	title := opts.title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	// Register the document row ahead of processing when a durable store
	// is configured, mirroring what the ingest API does before queueing.
	if a.DB != nil {
		if err := a.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := a.DB.CreateDocument(ctx, store.Document{
			ID:          docID,
			Title:       title,
			AccessLevel: opts.accessLevel,
		}); err != nil {
			return err
		}
	}

	if opts.sync {
		if a.Ingestor == nil {
			return fmt.Errorf("--sync needs the durable store; set DATABASE_URL")
		}
		report, err := a.Ingestor.ProcessDocument(ctx, docID, path, opts.accessLevel, title)
		if err != nil {
			return err
		}
		out.Successf("processed %q: %d chunks saved", report.DocumentTitle, report.ChunksSaved)
		out.Field("document id", "%s", report.DocumentID)
		out.Field("document type", "%s", report.DocumentType)
		out.Field("sections", "%d (%d tables)", report.SectionCount, report.TableCount)
		if len(report.Keywords.All) > 0 {
			out.Field("keywords", "%s", strings.Join(report.Keywords.All, ", "))
		}
		return nil
	}

	taskID, err := a.Producer.EnqueueProcessDocument(ctx, worker.ProcessDocumentArgs{
		DocumentID:    docID,
		FilePath:      path,
		AccessLevel:   opts.accessLevel,
		DocumentTitle: title,
	})
	if err != nil {
		return err
	}
	out.Statusf("📨", "queued document %s", docID)
	out.Field("task id", "%s", taskID)

	if opts.wait <= 0 {
		return nil
	}
	return waitForTask(ctx, out, a, cfg.Worker.ResultTTL, taskID, opts.wait)
}

// waitForTask polls the result store until the task finishes or the
// deadline passes.
func waitForTask(ctx context.Context, out *output.Writer, a *app.App, resultTTL time.Duration, taskID string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := worker.NewResults(a.Redis, resultTTL)
	result, err := results.Wait(waitCtx, taskID, 0)
	if err != nil {
		return fmt.Errorf("waiting for task %s: %w", taskID, err)
	}
	if !result.Success {
		out.Errorf("task failed: %s", result.Error)
		return fmt.Errorf("task %s failed (%s)", taskID, result.ErrorKind)
	}
	out.Successf("task finished in %.0f ms", result.DurationMS)
	return nil
}
