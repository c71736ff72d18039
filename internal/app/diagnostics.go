package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docrank/docrank/internal/cache"
	"github.com/docrank/docrank/internal/chroma"
	"github.com/docrank/docrank/internal/config"
	"github.com/docrank/docrank/internal/embed"
	"github.com/docrank/docrank/internal/ingest"
	"github.com/docrank/docrank/internal/keywords"
	"github.com/docrank/docrank/internal/rerank"
	"github.com/docrank/docrank/internal/search"
	"github.com/docrank/docrank/internal/store"
	"github.com/docrank/docrank/internal/worker"
)

// ServiceName identifies this process in health envelopes.
const ServiceName = "docrank-worker"

// Section and overall status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusDisabled  = "disabled"
)

// HealthReport aggregates liveness across the backing services.
type HealthReport struct {
	Status              string            `json:"status"`
	Service             string            `json:"service"`
	Vector              VectorHealth      `json:"chromadb"`
	Pool                chroma.PoolHealth `json:"connection_pool"`
	Cache               SectionHealth     `json:"cache"`
	Database            DatabaseHealth    `json:"database"`
	Embedding           ModelHealth       `json:"embedding_service"`
	Reranking           ModelHealth       `json:"reranking_service"`
	SupportedExtensions []string          `json:"supported_extensions"`
	CheckedAt           time.Time         `json:"checked_at"`
}

// SectionHealth is a bare pass/fail probe result.
type SectionHealth struct {
	Status string `json:"status"`
}

// VectorHealth is the vector-store section of a health report.
type VectorHealth struct {
	Status      string `json:"status"`
	Collection  string `json:"collection_name,omitempty"`
	TotalChunks int    `json:"total_chunks"`
	Error       string `json:"error,omitempty"`
}

// DatabaseHealth is the durable-store section of a health report.
type DatabaseHealth struct {
	Status     string `json:"status"`
	Configured bool   `json:"configured"`
	Error      string `json:"error,omitempty"`
}

// ModelHealth is an inference-service section of a health report.
type ModelHealth struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// StatsReport is the processing-statistics envelope.
type StatsReport struct {
	Collection store.CollectionStats `json:"collection_stats"`
	Embedding  EmbeddingModelInfo    `json:"embedding_model"`
	Reranking  RerankingModelInfo    `json:"reranking_model"`
	Keywords   keywords.ModelInfo    `json:"keyword_service"`
	Search     search.RetrieverStats `json:"search_service"`
	Cache      cache.Stats           `json:"cache"`
	Documents  *store.DBStats        `json:"documents,omitempty"`
	Processors map[string]string     `json:"supported_processors"`
}

// EmbeddingModelInfo identifies the embedding backend.
type EmbeddingModelInfo struct {
	Model        string `json:"model_name"`
	Dimension    int    `json:"dimension"`
	MaxSeqLength int    `json:"max_seq_length"`
	Available    bool   `json:"model_available"`
}

// RerankingModelInfo identifies the cross-encoder backend.
type RerankingModelInfo struct {
	Model     string `json:"model_name"`
	MaxLength int    `json:"max_length"`
	Available bool   `json:"model_available"`
}

// Diagnostics aggregates health and processing statistics across the
// stack. It backs the HTTP endpoints, the queue diagnostics tasks, and
// the CLI health/stats commands.
type Diagnostics struct {
	cfg       *config.Config
	vectors   *store.VectorStore
	db        *store.DB
	cache     *cache.Store
	embedder  embed.Embedder
	reranker  rerank.Reranker
	keywords  *keywords.Extractor
	retriever *search.Retriever
	parsers   *ingest.Registry
}

var _ worker.Diagnostics = (*Diagnostics)(nil)

// NewDiagnostics reads the aggregation surface off an App. The App may be
// partially built; only the fields diagnostics probes need to be set.
func NewDiagnostics(a *App) *Diagnostics {
	return &Diagnostics{
		cfg:       a.Config,
		vectors:   a.Vectors,
		db:        a.DB,
		cache:     a.Cache,
		embedder:  a.Embedder,
		reranker:  a.Reranker,
		keywords:  a.Keywords,
		retriever: a.Retriever,
		parsers:   a.Parsers,
	}
}

// CheckHealth probes every backing service concurrently. A failed core
// store (vector collection, Redis, configured Postgres) makes the report
// unhealthy; an unreachable inference service only degrades it, since
// retrieval stays partially alive without it.
func (d *Diagnostics) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Service:             ServiceName,
		SupportedExtensions: d.parsers.Extensions(),
		CheckedAt:           time.Now().UTC(),
	}

	// Each goroutine fills its own section of the report.
	var g errgroup.Group
	g.Go(func() error {
		stats, err := d.vectors.Stats(ctx)
		if err != nil {
			report.Vector = VectorHealth{Status: StatusUnhealthy, Error: err.Error()}
			return nil
		}
		report.Vector = VectorHealth{
			Status:      StatusHealthy,
			Collection:  stats.Collection,
			TotalChunks: stats.TotalChunks,
		}
		return nil
	})
	g.Go(func() error {
		report.Pool = d.vectors.PoolHealth(ctx)
		return nil
	})
	g.Go(func() error {
		report.Cache = SectionHealth{Status: statusOf(d.cache.Healthy(ctx))}
		return nil
	})
	g.Go(func() error {
		report.Database = d.databaseHealth(ctx)
		return nil
	})
	g.Go(func() error {
		report.Embedding = ModelHealth{
			Model:  d.embedder.ModelName(),
			Status: statusOf(d.embedder.Available(ctx)),
		}
		return nil
	})
	g.Go(func() error {
		report.Reranking = ModelHealth{
			Model:  d.reranker.ModelName(),
			Status: statusOf(d.reranker.Available(ctx)),
		}
		return nil
	})
	_ = g.Wait()

	report.Status = overallStatus(report)
	return report
}

// CollectStats assembles corpus, model, and retrieval-state statistics.
// Sections that cannot be read stay zero-valued instead of failing the
// whole report.
func (d *Diagnostics) CollectStats(ctx context.Context) StatsReport {
	report := StatsReport{
		Embedding: EmbeddingModelInfo{
			Model:        d.embedder.ModelName(),
			Dimension:    d.embedder.Dimension(),
			MaxSeqLength: d.cfg.Embedding.MaxSeqLength,
			Available:    d.embedder.Available(ctx),
		},
		Reranking: RerankingModelInfo{
			Model:     d.reranker.ModelName(),
			MaxLength: d.cfg.Reranker.MaxLength,
			Available: d.reranker.Available(ctx),
		},
		Keywords:   d.keywords.ModelInfo(ctx),
		Search:     d.retriever.Stats(ctx),
		Cache:      d.cache.Stats(ctx),
		Processors: d.parsers.Names(),
	}
	if coll, err := d.vectors.Stats(ctx); err == nil {
		report.Collection = coll
	}
	if d.db != nil {
		if dbStats, err := d.db.Stats(ctx); err == nil {
			report.Documents = &dbStats
		}
	}
	return report
}

// Health implements the queue diagnostics surface.
func (d *Diagnostics) Health(ctx context.Context) any {
	return d.CheckHealth(ctx)
}

// ProcessingStats implements the queue diagnostics surface.
func (d *Diagnostics) ProcessingStats(ctx context.Context) any {
	return d.CollectStats(ctx)
}

func (d *Diagnostics) databaseHealth(ctx context.Context) DatabaseHealth {
	if d.db == nil {
		return DatabaseHealth{Status: StatusDisabled}
	}
	if err := d.db.Ping(ctx); err != nil {
		return DatabaseHealth{Status: StatusUnhealthy, Configured: true, Error: err.Error()}
	}
	return DatabaseHealth{Status: StatusHealthy, Configured: true}
}

func statusOf(ok bool) string {
	if ok {
		return StatusHealthy
	}
	return StatusUnhealthy
}

func overallStatus(r HealthReport) string {
	if r.Vector.Status != StatusHealthy || r.Cache.Status != StatusHealthy {
		return StatusUnhealthy
	}
	if r.Database.Configured && r.Database.Status != StatusHealthy {
		return StatusUnhealthy
	}
	if r.Embedding.Status != StatusHealthy || r.Reranking.Status != StatusHealthy {
		return StatusDegraded
	}
	return StatusHealthy
}
