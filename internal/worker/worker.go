package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docrank/docrank/internal/errors"
)

// DefaultConcurrency is the number of consumer goroutines.
const DefaultConcurrency = 4

// DefaultPopTimeout bounds one blocking pop so consumers notice
// shutdown even when the blocked connection outlives the context.
const DefaultPopTimeout = 5 * time.Second

// Worker consumes the task queues and publishes results. A Worker is
// single-use: once stopped it cannot be restarted.
type Worker struct {
	client      *redis.Client
	handlers    *Handlers
	results     *Results
	ingestQueue string
	queryQueue  string
	concurrency int
	popTimeout  time.Duration
	resultTTL   time.Duration
	logger      *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueues overrides the queue names consumed.
func WithQueues(ingestQueue, queryQueue string) WorkerOption {
	return func(w *Worker) {
		if ingestQueue != "" {
			w.ingestQueue = ingestQueue
		}
		if queryQueue != "" {
			w.queryQueue = queryQueue
		}
	}
}

// WithConcurrency sets the number of consumer goroutines.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPopTimeout bounds one blocking pop. The Redis protocol enforces
// a one second minimum.
func WithPopTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.popTimeout = d
		}
	}
}

// WithResultTTL bounds how long task results stay readable.
func WithResultTTL(ttl time.Duration) WorkerOption {
	return func(w *Worker) {
		if ttl > 0 {
			w.resultTTL = ttl
		}
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker creates a consumer over an existing Redis client.
func NewWorker(client *redis.Client, handlers *Handlers, opts ...WorkerOption) *Worker {
	w := &Worker{
		client:      client,
		handlers:    handlers,
		ingestQueue: IngestQueue,
		queryQueue:  QueryQueue,
		concurrency: DefaultConcurrency,
		popTimeout:  DefaultPopTimeout,
		resultTTL:   DefaultResultTTL,
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.results = NewResults(client, w.resultTTL)
	return w
}

// Results exposes the result store sharing this worker's client and TTL.
func (w *Worker) Results() *Results {
	return w.results
}

// IsRunning reports whether consumers are active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches the consumer goroutines and returns immediately.
// A second Start is a no-op; use Stop or Wait to shut down.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop signals the consumers to finish and waits for them to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// Wait blocks until the worker has stopped.
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.logger.Info("worker started",
		slog.String("ingest_queue", w.ingestQueue),
		slog.String("query_queue", w.queryQueue),
		slog.Int("concurrency", w.concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}
	wg.Wait()

	w.logger.Info("worker stopped")
}

// consume pops tasks until the context ends. The query queue is listed
// first so interactive searches are served before ingest backlog.
func (w *Worker) consume(ctx context.Context) {
	queues := []string{w.queryQueue, w.ingestQueue}
	for {
		if ctx.Err() != nil {
			return
		}

		popped, err := w.client.BRPop(ctx, w.popTimeout, queues...).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("queue pop failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(popped) != 2 {
			continue
		}
		w.process(ctx, popped[0], []byte(popped[1]))
	}
}

func (w *Worker) process(ctx context.Context, queue string, envelope []byte) {
	var task Task
	if err := json.Unmarshal(envelope, &task); err != nil {
		w.logger.Error("task envelope corrupt, dropping",
			slog.String("queue", queue),
			slog.String("error", err.Error()))
		return
	}

	logger := w.logger.With(
		slog.String("task_id", task.ID),
		slog.String("task", task.Name))
	logger.Info("task started", slog.String("queue", queue))

	start := time.Now()
	payload, err := w.handlers.Handle(ctx, task)

	result := Result{
		TaskID:      task.ID,
		Task:        task.Name,
		EnqueuedAt:  task.EnqueuedAt,
		CompletedAt: time.Now().UTC(),
		DurationMS:  elapsedMS(start),
	}
	switch {
	case err != nil:
		result.Error = err.Error()
		result.ErrorKind = errors.KindOf(err).String()
		logger.Error("task failed",
			slog.String("kind", result.ErrorKind),
			slog.String("error", err.Error()),
			slog.Float64("took_ms", result.DurationMS))
	default:
		raw, merr := json.Marshal(payload)
		if merr != nil {
			result.Error = "task result not serializable: " + merr.Error()
			result.ErrorKind = errors.KindFatal.String()
			logger.Error("task result not serializable", slog.String("error", merr.Error()))
			break
		}
		result.Success = true
		result.Payload = raw
		logger.Info("task completed", slog.Float64("took_ms", result.DurationMS))
	}

	// Publish even when the context is ending so the producer can read
	// the terminal state.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()
	if err := w.results.Save(saveCtx, result); err != nil {
		logger.Warn("task result not stored", slog.String("error", err.Error()))
	}
}
