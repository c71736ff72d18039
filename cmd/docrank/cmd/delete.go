package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docrank/docrank/internal/app"
	"github.com/docrank/docrank/internal/output"
)

// deleteOptions holds CLI flags for delete.
type deleteOptions struct {
	sync bool
	wait time.Duration
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	opts := &deleteOptions{}

	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document and its chunks from the knowledge base",
		Long: `Delete removes a document's chunks from the vector collection and its
rows from the durable store. By default the delete is queued for the
worker; --sync runs it in process instead.

Examples:
  docrank delete 3f1a7c2e-9b4d-4e8a-a1f0-6c2d8b5e917a
  docrank delete old-handbook --sync`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, root, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.sync, "sync", false, "delete in process instead of queueing")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "wait for the queued task to finish (e.g. 30s)")

	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *deleteOptions, documentID string) error {
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

	if opts.sync {
		if a.Ingestor == nil {
			return fmt.Errorf("--sync needs the durable store; set DATABASE_URL")
		}
		report, err := a.Ingestor.DeleteDocument(ctx, documentID)
		if err != nil {
			return err
		}
		out.Successf("deleted document %s: %d vector chunks, %d database rows", documentID, report.VectorDeleted, report.DurableDeleted)
		return nil
	}

	taskID, err := a.Producer.EnqueueDeleteDocument(ctx, documentID)
	if err != nil {
		return err
	}
	out.Statusf("📨", "queued delete for document %s", documentID)
	out.Field("task id", "%s", taskID)

	if opts.wait <= 0 {
		return nil
	}
	return waitForTask(ctx, out, a, cfg.Worker.ResultTTL, taskID, opts.wait)
}
