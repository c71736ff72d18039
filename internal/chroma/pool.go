package chroma

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docrank/docrank/internal/errors"
)

// Conn is the surface a pooled connection must expose.
type Conn interface {
	comparable
	Heartbeat(ctx context.Context) error
}

// Factory dials and validates a fresh connection.
type Factory[C Conn] func(ctx context.Context) (C, error)

// PoolConfig bounds the pool.
type PoolConfig struct {
	MinConnections int
	MaxConnections int
	BorrowTimeout  time.Duration
}

func (cfg PoolConfig) withDefaults() PoolConfig {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.MinConnections <= 0 {
		cfg.MinConnections = 2
	}
	if cfg.MinConnections > cfg.MaxConnections {
		cfg.MinConnections = cfg.MaxConnections
	}
	if cfg.BorrowTimeout <= 0 {
		cfg.BorrowTimeout = 30 * time.Second
	}
	return cfg
}

// Pool keeps between MinConnections and MaxConnections live connections.
// Dead connections are never handed out: every borrow is validated with a
// heartbeat and failed handles are discarded and replaced.
type Pool[C Conn] struct {
	cfg     PoolConfig
	factory Factory[C]
	logger  *slog.Logger

	available chan C

	mu     sync.Mutex
	active map[C]struct{}
	count  int
	closed bool

	created  int64
	borrowed int64
	returned int64
	failures int64
	peak     int
}

// NewPool creates the pool and prewarms MinConnections connections.
// Prewarm failures are logged and counted; the pool still starts.
func NewPool[C Conn](cfg PoolConfig, factory Factory[C], logger *slog.Logger) *Pool[C] {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool[C]{
		cfg:       cfg,
		factory:   factory,
		logger:    logger,
		available: make(chan C, cfg.MaxConnections),
		active:    make(map[C]struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < cfg.MinConnections; i++ {
		conn, err := factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.failures++
			p.mu.Unlock()
			p.logger.Warn("pool prewarm connection failed", slog.String("error", err.Error()))
			continue
		}
		p.mu.Lock()
		p.count++
		p.created++
		p.mu.Unlock()
		p.available <- conn
	}

	p.logger.Info("vector store pool ready",
		slog.Int("min_connections", cfg.MinConnections),
		slog.Int("max_connections", cfg.MaxConnections),
		slog.Int("prewarmed", len(p.available)))
	return p
}

// Get borrows a connection, waiting up to the configured borrow timeout.
// Exhaustion surfaces as a resource-exhausted error.
func (p *Pool[C]) Get(ctx context.Context) (C, error) {
	return p.get(ctx, p.cfg.BorrowTimeout)
}

func (p *Pool[C]) get(ctx context.Context, budget time.Duration) (C, error) {
	var zero C

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return zero, errors.Fatal("vector store pool is closed", nil)
	}

	deadline := time.Now().Add(budget)

	// Idle connection first. A handle that fails its heartbeat is dropped
	// and the borrow retried through the create and wait phases.
	if conn, ok := p.takeAvailable(ctx, 0); ok {
		if p.validate(ctx, conn) {
			return conn, nil
		}
	}

	if conn, ok := p.createNew(ctx); ok {
		return conn, nil
	}

	if remaining := time.Until(deadline); remaining > 0 {
		if conn, ok := p.takeAvailable(ctx, remaining); ok {
			if p.validate(ctx, conn) {
				return conn, nil
			}
		}
	}

	p.mu.Lock()
	active, total := len(p.active), p.count
	p.mu.Unlock()
	p.logger.Warn("vector store pool exhausted",
		slog.Int("active", active),
		slog.Int("total", total),
		slog.Duration("timeout", budget))
	return zero, errors.ResourceExhausted(
		fmt.Sprintf("no vector store connection available within %s", budget), nil)
}

// Put returns a borrowed connection. Dead or surplus connections are
// discarded instead of re-entering the available set.
func (p *Pool[C]) Put(conn C) {
	p.mu.Lock()
	if _, ok := p.active[conn]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, conn)
	p.returned++
	closed := p.closed
	p.mu.Unlock()

	if closed {
		p.drop()
		return
	}

	hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := conn.Heartbeat(hctx)
	cancel()
	if err != nil {
		p.drop()
		p.logger.Debug("dropped dead connection on return")
		return
	}

	select {
	case p.available <- conn:
	default:
		p.drop()
	}
}

// WithClient borrows a connection for the duration of fn.
func (p *Pool[C]) WithClient(ctx context.Context, fn func(C) error) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

func (p *Pool[C]) takeAvailable(ctx context.Context, wait time.Duration) (C, bool) {
	var zero C
	select {
	case conn := <-p.available:
		p.markBorrowed(conn)
		return conn, true
	default:
	}
	if wait <= 0 {
		return zero, false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case conn := <-p.available:
		p.markBorrowed(conn)
		return conn, true
	case <-timer.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (p *Pool[C]) markBorrowed(conn C) {
	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.borrowed++
	if len(p.active) > p.peak {
		p.peak = len(p.active)
	}
	p.mu.Unlock()
}

func (p *Pool[C]) validate(ctx context.Context, conn C) bool {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Heartbeat(hctx); err == nil {
		return true
	}
	p.mu.Lock()
	delete(p.active, conn)
	p.count--
	p.mu.Unlock()
	p.logger.Warn("dropped dead vector store connection")
	return false
}

func (p *Pool[C]) createNew(ctx context.Context) (C, bool) {
	var zero C
	p.mu.Lock()
	if p.count >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return zero, false
	}
	// Reserve the slot before the dial so concurrent borrows cannot
	// overshoot the maximum.
	p.count++
	p.mu.Unlock()

	conn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.count--
		p.failures++
		p.mu.Unlock()
		p.logger.Error("vector store connection failed", slog.String("error", err.Error()))
		return zero, false
	}

	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.created++
	p.borrowed++
	if len(p.active) > p.peak {
		p.peak = len(p.active)
	}
	p.mu.Unlock()
	return conn, true
}

func (p *Pool[C]) drop() {
	p.mu.Lock()
	p.count--
	p.mu.Unlock()
}

// PoolStats is an advisory snapshot of the pool.
type PoolStats struct {
	Config   PoolConfigStats  `json:"pool_config"`
	State    PoolStateStats   `json:"current_state"`
	Counters PoolCounterStats `json:"statistics"`
}

type PoolConfigStats struct {
	MaxConnections int `json:"max_connections"`
	MinConnections int `json:"min_connections"`
}

type PoolStateStats struct {
	TotalConnections     int `json:"total_connections"`
	ActiveConnections    int `json:"active_connections"`
	AvailableConnections int `json:"available_connections"`
}

type PoolCounterStats struct {
	TotalCreated  int64 `json:"total_created"`
	TotalBorrowed int64 `json:"total_borrowed"`
	TotalReturned int64 `json:"total_returned"`
	TotalErrors   int64 `json:"total_errors"`
	PeakActive    int   `json:"peak_active"`
}

// Stats snapshots pool state and counters.
func (p *Pool[C]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Config: PoolConfigStats{
			MaxConnections: p.cfg.MaxConnections,
			MinConnections: p.cfg.MinConnections,
		},
		State: PoolStateStats{
			TotalConnections:     p.count,
			ActiveConnections:    len(p.active),
			AvailableConnections: len(p.available),
		},
		Counters: PoolCounterStats{
			TotalCreated:  p.created,
			TotalBorrowed: p.borrowed,
			TotalReturned: p.returned,
			TotalErrors:   p.failures,
			PeakActive:    p.peak,
		},
	}
}

// PoolHealth is the borrow-and-return probe result.
type PoolHealth struct {
	Healthy           bool   `json:"healthy"`
	TotalConnections  int    `json:"total_connections"`
	ActiveConnections int    `json:"active_connections"`
	Error             string `json:"error,omitempty"`
}

// Health attempts one borrow/return cycle with a 5 s budget.
func (p *Pool[C]) Health(ctx context.Context) PoolHealth {
	var h PoolHealth
	conn, err := p.get(ctx, 5*time.Second)
	if err != nil {
		h.Error = err.Error()
	} else {
		p.Put(conn)
		h.Healthy = true
	}

	p.mu.Lock()
	h.TotalConnections = p.count
	h.ActiveConnections = len(p.active)
	p.mu.Unlock()
	return h
}

// Close discards every connection. Subsequent borrows fail.
func (p *Pool[C]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.active = make(map[C]struct{})
	p.mu.Unlock()

	for {
		select {
		case <-p.available:
		default:
			p.mu.Lock()
			p.count = 0
			p.mu.Unlock()
			p.logger.Info("vector store pool closed")
			return
		}
	}
}
