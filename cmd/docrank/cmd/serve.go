package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docrank/docrank/internal/app"
)

type serveOptions struct {
	httpAddr string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task worker",
		Long: `Run the document processing and query worker.

Consumes tasks from the Redis queues until interrupted. When an HTTP
address is configured, GET /health and GET /stats are served for
monitoring.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "Health endpoint listen address (overrides HTTP_ADDR)")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts serveOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if opts.httpAddr != "" {
		cfg.HTTP.Addr = opts.httpAddr
	}

	logger, cleanup, err := newLogger(cfg, root, false)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.EnsureSchema(ctx); err != nil {
		return err
	}

	w := a.NewWorker()
	w.Start(ctx)

	var srv *app.Server
	if cfg.HTTP.Addr != "" {
		srv = app.NewServer(cfg.HTTP.Addr, a.Diag, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("http endpoint failed", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("docrank worker running",
		slog.String("version", Version),
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.String("http_addr", cfg.HTTP.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", slog.String("reason", "context cancelled"))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", slog.String("error", err.Error()))
		}
	}
	w.Stop()
	return nil
}
