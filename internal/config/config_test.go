package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "http://localhost:8000", cfg.Chroma.Endpoint())
	assert.Equal(t, "documents", cfg.Chroma.Collection)
	assert.Equal(t, 2, cfg.Chroma.PoolMin)
	assert.Equal(t, 10, cfg.Chroma.PoolMax)
	assert.Equal(t, 30*time.Second, cfg.Chroma.BorrowTimeout)

	assert.Equal(t, 3600*time.Second, cfg.Redis.ResultTTL)
	assert.Equal(t, 7200*time.Second, cfg.Redis.BM25TTL)

	assert.Equal(t, "intfloat/multilingual-e5-large-instruct", cfg.Embedding.Model)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, 512, cfg.Embedding.MaxSeqLength)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)

	assert.Equal(t, "BAAI/bge-reranker-v2-m3", cfg.Reranker.Model)
	assert.Equal(t, 512, cfg.Reranker.MaxLength)

	assert.Equal(t, 30, cfg.Search.TopK)
	assert.Equal(t, 10, cfg.Search.RerankTopK)
	assert.InDelta(t, 0.7, cfg.Search.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Search.BM25Weight, 1e-9)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHROMADB_URL", "http://vectors:9000")
	t.Setenv("CHROMADB_POOL_MIN", "3")
	t.Setenv("CHROMADB_POOL_MAX", "7")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("EMBEDDING_MODEL", "custom/model")
	t.Setenv("EMBEDDING_DIMENSION", "768")
	t.Setenv("LOCAL_EMBEDDING_URL", "http://embed:8001")
	t.Setenv("LOCAL_RERANKER_URL", "http://rerank:8002")
	t.Setenv("WORKER_INGEST_QUEUE", "docrank:queue:bulk")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "http://vectors:9000", cfg.Chroma.Endpoint())
	assert.Equal(t, 3, cfg.Chroma.PoolMin)
	assert.Equal(t, 7, cfg.Chroma.PoolMax)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "custom/model", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, "http://embed:8001", cfg.Embedding.ServiceURL)
	assert.Equal(t, "http://rerank:8002", cfg.Reranker.ServiceURL)
	assert.Equal(t, "docrank:queue:bulk", cfg.Worker.IngestQueue)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestHostPortFallback(t *testing.T) {
	t.Setenv("CHROMADB_HOST", "vectors.internal")
	t.Setenv("CHROMADB_PORT", "8800")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://vectors.internal:8800", cfg.Chroma.Endpoint())
}

func TestYAMLFileLayer(t *testing.T) {
	dir := t.TempDir()
	yamlBody := `
chroma:
  url: http://filehost:8000
  pool_max: 5
search:
  top_k: 15
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docrank.yaml"), []byte(yamlBody), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://filehost:8000", cfg.Chroma.Endpoint())
	assert.Equal(t, 5, cfg.Chroma.PoolMax)
	assert.Equal(t, 15, cfg.Search.TopK)
	// Untouched values keep defaults.
	assert.Equal(t, 10, cfg.Search.RerankTopK)
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docrank.yaml"),
		[]byte("chroma:\n  url: http://filehost:8000\n"), 0o644))
	t.Setenv("CHROMADB_URL", "http://envhost:8000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://envhost:8000", cfg.Chroma.Endpoint())
}

func TestDotEnvLayer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("EMBEDDING_BATCH_SIZE=16\n"), 0o644))
	// Ensure a clean slate for the key the .env provides.
	t.Setenv("EMBEDDING_BATCH_SIZE", "")
	os.Unsetenv("EMBEDDING_BATCH_SIZE")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
}

func TestValidateRejectsContradictions(t *testing.T) {
	cfg := NewConfig()
	cfg.Chroma.PoolMin = 12
	cfg.Chroma.PoolMax = 4
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Embedding.Dimension = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Search.BM25Weight = -0.1
	assert.Error(t, cfg.Validate())
}
