package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/cache"
	"github.com/docrank/docrank/internal/chroma"
	"github.com/docrank/docrank/internal/config"
	"github.com/docrank/docrank/internal/embed"
	"github.com/docrank/docrank/internal/ingest"
	"github.com/docrank/docrank/internal/keywords"
	"github.com/docrank/docrank/internal/rerank"
	"github.com/docrank/docrank/internal/search"
	"github.com/docrank/docrank/internal/store"
)

// newVectorService fakes the vector store REST surface with a fixed
// collection holding seven chunks.
func newVectorService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"nanosecond heartbeat": 1})
	})
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "col-1", "name": chroma.DefaultCollection})
	})
	mux.HandleFunc("/api/v1/collections/col-1/count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 7)
	})
	mux.HandleFunc("/api/v1/collections/col-1/get", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ids": []string{}, "documents": []string{}, "metadatas": []map[string]any{},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newModelService fakes an inference service health endpoint.
func newModelService(t *testing.T, loaded bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":       "healthy",
			"model_loaded": loaded,
			"device":       "cpu",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// newTestStack wires Diagnostics over fake services: miniredis behind the
// cache, an httptest vector store, and two inference health endpoints.
func newTestStack(t *testing.T, embedUp, rerankUp bool) (*Diagnostics, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cacheStore := cache.New(client)

	vectorSrv := newVectorService(t)
	pool := chroma.NewPool(chroma.PoolConfig{MinConnections: 1, MaxConnections: 2},
		func(ctx context.Context) (*chroma.Client, error) {
			return chroma.NewClient(vectorSrv.URL), nil
		}, nil)
	t.Cleanup(pool.Close)
	vectors := store.NewVectorStore(pool)

	embedder := embed.NewClient(newModelService(t, embedUp).URL,
		embed.WithModel("multilingual-e5-large"),
		embed.WithDimension(1024))
	t.Cleanup(func() { _ = embedder.Close() })
	reranker := rerank.NewClient(newModelService(t, rerankUp).URL,
		rerank.WithModel("bge-reranker-v2-m3"))
	t.Cleanup(func() { _ = reranker.Close() })

	indexes := search.NewIndexManager(vectors, cacheStore)
	retriever := search.NewRetriever(embedder, reranker, vectors, indexes)

	a := &App{
		Config:    config.NewConfig(),
		Vectors:   vectors,
		Cache:     cacheStore,
		Embedder:  embedder,
		Reranker:  reranker,
		Keywords:  keywords.NewExtractor(embedder),
		Retriever: retriever,
		Parsers:   ingest.NewRegistry(),
	}
	return NewDiagnostics(a), mr
}

func TestCheckHealthHealthyStack(t *testing.T) {
	diag, _ := newTestStack(t, true, true)

	report := diag.CheckHealth(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, ServiceName, report.Service)

	assert.Equal(t, StatusHealthy, report.Vector.Status)
	assert.Equal(t, "documents", report.Vector.Collection)
	assert.Equal(t, 7, report.Vector.TotalChunks)
	assert.True(t, report.Pool.Healthy)

	assert.Equal(t, StatusHealthy, report.Cache.Status)
	assert.Equal(t, StatusDisabled, report.Database.Status)
	assert.False(t, report.Database.Configured)

	assert.Equal(t, StatusHealthy, report.Embedding.Status)
	assert.Equal(t, "multilingual-e5-large", report.Embedding.Model)
	assert.Equal(t, StatusHealthy, report.Reranking.Status)
	assert.Equal(t, "bge-reranker-v2-m3", report.Reranking.Model)

	assert.Equal(t, []string{".csv", ".docx", ".json"}, report.SupportedExtensions)
	assert.WithinDuration(t, time.Now(), report.CheckedAt, time.Minute)
}

func TestCheckHealthDegradedWithoutReranker(t *testing.T) {
	diag, _ := newTestStack(t, true, false)

	report := diag.CheckHealth(context.Background())

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Reranking.Status)
	assert.Equal(t, StatusHealthy, report.Vector.Status)
	assert.Equal(t, StatusHealthy, report.Embedding.Status)
}

func TestCheckHealthUnhealthyWithoutRedis(t *testing.T) {
	diag, mr := newTestStack(t, true, true)
	mr.Close()

	report := diag.CheckHealth(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Cache.Status)
}

func TestCollectStats(t *testing.T) {
	diag, _ := newTestStack(t, true, true)

	stats := diag.CollectStats(context.Background())

	assert.Equal(t, 7, stats.Collection.TotalChunks)
	assert.Equal(t, "documents", stats.Collection.Collection)

	assert.Equal(t, "multilingual-e5-large", stats.Embedding.Model)
	assert.Equal(t, 1024, stats.Embedding.Dimension)
	assert.Equal(t, 512, stats.Embedding.MaxSeqLength)
	assert.True(t, stats.Embedding.Available)

	assert.Equal(t, "bge-reranker-v2-m3", stats.Reranking.Model)
	assert.Equal(t, 512, stats.Reranking.MaxLength)
	assert.True(t, stats.Reranking.Available)

	assert.Equal(t, "multilingual-e5-large", stats.Keywords.ModelName)
	assert.True(t, stats.Keywords.Available)

	assert.False(t, stats.Search.BM25Initialized)
	assert.Contains(t, stats.Search.SearchMethods, "hybrid")
	assert.Positive(t, stats.Cache.ResultTTLSecs)

	// No Postgres in this stack.
	assert.Nil(t, stats.Documents)

	assert.Equal(t, map[string]string{
		".csv":  "CSVParser",
		".docx": "DocxParser",
		".json": "JSONParser",
	}, stats.Processors)
}
