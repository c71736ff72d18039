package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Server exposes the diagnostics aggregation over HTTP in worker mode:
// GET /health answers 200 while the core stores respond and 503 once one
// of them fails, GET /stats returns the processing statistics envelope.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the HTTP surface on addr. Health probes run per
// request; nothing is cached between polls.
func NewServer(addr string, diag *Diagnostics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		report := diag.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	})
	engine.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, diag.CollectStats(c.Request.Context()))
	})

	return &Server{
		engine: engine,
		srv:    &http.Server{Addr: addr, Handler: engine},
		logger: logger,
	}
}

// Start serves until the listener closes. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http endpoint listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
