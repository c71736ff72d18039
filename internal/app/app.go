// Package app assembles the document retrieval service. One configuration
// drives the Redis client, the vector-store connection pool, the inference
// clients, the hybrid retriever, the ingest pipeline and the task surface;
// the worker process and the CLI share the same wiring.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docrank/docrank/internal/cache"
	"github.com/docrank/docrank/internal/chroma"
	"github.com/docrank/docrank/internal/config"
	"github.com/docrank/docrank/internal/embed"
	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/expand"
	"github.com/docrank/docrank/internal/ingest"
	"github.com/docrank/docrank/internal/keywords"
	"github.com/docrank/docrank/internal/rerank"
	"github.com/docrank/docrank/internal/search"
	"github.com/docrank/docrank/internal/store"
	"github.com/docrank/docrank/internal/worker"
)

// App owns every long-lived component and their shared connections.
// Without a Postgres URL the durable sink and the ingest pipeline stay
// nil; retrieval and the query tasks still work against the vector
// store alone.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Redis     *redis.Client
	Cache     *cache.Store
	Pool      *chroma.Pool[*chroma.Client]
	Vectors   *store.VectorStore
	DB        *store.DB
	Embedder  embed.Embedder
	Reranker  rerank.Reranker
	Expander  *expand.Expander
	Indexes   *search.IndexManager
	Retriever *search.Retriever
	Parsers   *ingest.Registry
	Keywords  *keywords.Extractor
	Ingestor  *ingest.Orchestrator
	RAG       *worker.RAGPipeline
	Producer  *worker.Producer
	Handlers  *worker.Handlers
	Diag      *Diagnostics
}

// New wires the full stack from cfg. Nothing is dialed eagerly except
// the pool prewarm; a dead backing service surfaces on first use, so
// the worker can start before its dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, errors.Validation("invalid redis url: %v", err)
	}
	a.Redis = redis.NewClient(redisOpts)
	a.Cache = cache.New(a.Redis,
		cache.WithResultTTL(cfg.Redis.ResultTTL),
		cache.WithBM25TTL(cfg.Redis.BM25TTL),
		cache.WithLogger(logger))

	endpoint := cfg.Chroma.Endpoint()
	clientOpts := []chroma.ClientOption{chroma.WithClientLogger(logger)}
	if cfg.Chroma.Collection != "" {
		clientOpts = append(clientOpts, chroma.WithCollection(cfg.Chroma.Collection))
	}
	if cfg.Chroma.RequestTimeout > 0 {
		clientOpts = append(clientOpts, chroma.WithHTTPClient(&http.Client{
			Timeout: cfg.Chroma.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}))
	}
	a.Pool = chroma.NewPool(chroma.PoolConfig{
		MinConnections: cfg.Chroma.PoolMin,
		MaxConnections: cfg.Chroma.PoolMax,
		BorrowTimeout:  cfg.Chroma.BorrowTimeout,
	}, func(ctx context.Context) (*chroma.Client, error) {
		return chroma.NewClient(endpoint, clientOpts...), nil
	}, logger)
	a.Vectors = store.NewVectorStore(a.Pool, store.WithVectorLogger(logger))

	if cfg.Postgres.URL != "" {
		db, err := store.OpenDB(cfg.Postgres.URL, store.WithDBLogger(logger))
		if err != nil {
			return nil, err
		}
		a.DB = db
	}

	embedClient := embed.NewClient(cfg.Embedding.ServiceURL,
		embed.WithModel(cfg.Embedding.Model),
		embed.WithDimension(cfg.Embedding.Dimension),
		embed.WithMaxSeqLength(cfg.Embedding.MaxSeqLength),
		embed.WithBatchSize(cfg.Embedding.BatchSize),
		embed.WithTimeout(cfg.Embedding.Timeout),
		embed.WithLogger(logger))
	a.Embedder = embedClient
	if cfg.Embedding.CacheSize > 0 {
		cached, err := embed.NewCachedEmbedder(embedClient, cfg.Embedding.CacheSize)
		if err != nil {
			return nil, err
		}
		a.Embedder = cached
	}

	a.Reranker = rerank.NewClient(cfg.Reranker.ServiceURL,
		rerank.WithModel(cfg.Reranker.Model),
		rerank.WithMaxLength(cfg.Reranker.MaxLength),
		rerank.WithTimeout(cfg.Reranker.Timeout),
		rerank.WithLogger(logger))

	expandOpts := []expand.Option{expand.WithLogger(logger)}
	if cfg.Synonyms.Path != "" {
		expandOpts = append(expandOpts, expand.WithPath(cfg.Synonyms.Path))
	}
	a.Expander = expand.New(expandOpts...)
	if cfg.Synonyms.Watch {
		if err := a.Expander.Watch(); err != nil {
			logger.Warn("synonym watch not started", slog.String("error", err.Error()))
		}
	}

	a.Indexes = search.NewIndexManager(a.Vectors, a.Cache,
		search.WithManagerLogger(logger))
	a.Retriever = search.NewRetriever(a.Embedder, a.Reranker, a.Vectors, a.Indexes,
		search.WithExpander(a.Expander),
		search.WithResultCache(a.Cache),
		search.WithParams(search.Params{
			TopK:         cfg.Search.TopK,
			RerankTopK:   cfg.Search.RerankTopK,
			VectorWeight: cfg.Search.VectorWeight,
			BM25Weight:   cfg.Search.BM25Weight,
		}),
		search.WithLogger(logger))

	a.Parsers = ingest.NewRegistry()
	a.Keywords = keywords.NewExtractor(a.Embedder, keywords.WithLogger(logger))
	if a.DB != nil {
		a.Ingestor = ingest.NewOrchestrator(a.Parsers, a.Embedder, a.Vectors, a.DB,
			ingest.WithKeywords(a.Keywords),
			ingest.WithInvalidator(a.Indexes),
			ingest.WithLogger(logger))
	}

	a.RAG = worker.NewRAGPipeline(a.Embedder, a.Vectors, a.Reranker,
		worker.WithRAGLogger(logger))
	a.Producer = worker.NewProducer(a.Redis,
		worker.WithProducerQueues(cfg.Worker.IngestQueue, cfg.Worker.QueryQueue))
	a.Diag = NewDiagnostics(a)

	var ingestor worker.Ingestor
	if a.Ingestor != nil {
		ingestor = a.Ingestor
	}
	var statuses worker.StatusStore
	if a.DB != nil {
		statuses = a.DB
	}
	a.Handlers = worker.NewHandlers(ingestor, a.Retriever, a.RAG, statuses, a.Diag,
		worker.WithHandlersLogger(logger))

	ok = true
	return a, nil
}

// NewWorker builds a queue consumer over the app's Redis connection and
// task handlers.
func (a *App) NewWorker(opts ...worker.WorkerOption) *worker.Worker {
	base := []worker.WorkerOption{
		worker.WithQueues(a.Config.Worker.IngestQueue, a.Config.Worker.QueryQueue),
		worker.WithConcurrency(a.Config.Worker.Concurrency),
		worker.WithResultTTL(a.Config.Worker.ResultTTL),
		worker.WithWorkerLogger(a.Logger),
	}
	return worker.NewWorker(a.Redis, a.Handlers, append(base, opts...)...)
}

// EnsureSchema creates the durable tables when Postgres is configured.
func (a *App) EnsureSchema(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.EnsureSchema(ctx)
}

// Close releases every connection. Safe on a partially built App.
func (a *App) Close() {
	if a.Expander != nil {
		a.Expander.Stop()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Reranker != nil {
		_ = a.Reranker.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
