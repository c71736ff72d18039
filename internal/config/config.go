// Package config loads docrank configuration from defaults, an optional
// docrank.yaml file, an optional .env file, and environment variables,
// in increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete docrank configuration.
type Config struct {
	Chroma    ChromaConfig    `yaml:"chroma" json:"chroma"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres" json:"postgres"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Reranker  RerankerConfig  `yaml:"reranker" json:"reranker"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`
	Synonyms  SynonymsConfig  `yaml:"synonyms" json:"synonyms"`
	Log       LogConfig       `yaml:"log" json:"log"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
}

// ChromaConfig configures the vector store endpoint and connection pool.
type ChromaConfig struct {
	// URL is the full endpoint, e.g. http://localhost:8000.
	// Overrides Host/Port when set.
	URL  string `yaml:"url" json:"url"`
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Collection is the vector collection name.
	Collection string `yaml:"collection" json:"collection"`

	// PoolMin and PoolMax bound the connection pool.
	PoolMin int `yaml:"pool_min" json:"pool_min"`
	PoolMax int `yaml:"pool_max" json:"pool_max"`

	// BorrowTimeout bounds a pool borrow.
	BorrowTimeout time.Duration `yaml:"borrow_timeout" json:"borrow_timeout"`

	// RequestTimeout bounds a single vector-store request.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// Endpoint returns the effective vector store base URL.
func (c ChromaConfig) Endpoint() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// RedisConfig configures the cache and task-queue store.
type RedisConfig struct {
	// URL is a redis:// connection string.
	URL string `yaml:"url" json:"url"`

	// ResultTTL is the TTL for cached search results.
	ResultTTL time.Duration `yaml:"result_ttl" json:"result_ttl"`

	// BM25TTL is the TTL for cached BM25 index blobs.
	BM25TTL time.Duration `yaml:"bm25_ttl" json:"bm25_ttl"`
}

// PostgresConfig configures the durable chunk/document sink.
type PostgresConfig struct {
	// URL is a postgres:// connection string. Empty disables the sink
	// (chroma-only mode, used by tests and local search).
	URL string `yaml:"url" json:"url"`
}

// EmbeddingConfig configures the embedding inference client.
type EmbeddingConfig struct {
	// ServiceURL is the local embedding service endpoint.
	ServiceURL string `yaml:"service_url" json:"service_url"`

	// Model is the embedding model identifier, reported in results.
	Model string `yaml:"model" json:"model"`

	// Dimension is the embedding vector size.
	Dimension int `yaml:"dimension" json:"dimension"`

	// MaxSeqLength is the model's token window, reported to the service.
	MaxSeqLength int `yaml:"max_seq_length" json:"max_seq_length"`

	// BatchSize caps texts per embed-batch request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// CacheSize is the query-embedding LRU capacity (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// RerankerConfig configures the cross-encoder client.
type RerankerConfig struct {
	// ServiceURL is the local reranker service endpoint.
	ServiceURL string `yaml:"service_url" json:"service_url"`

	// Model is the reranker model identifier, reported in results.
	Model string `yaml:"model" json:"model"`

	// MaxLength is the model's pair token window.
	MaxLength int `yaml:"max_length" json:"max_length"`

	// Timeout bounds a single rerank request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// SearchConfig configures retrieval defaults.
type SearchConfig struct {
	// TopK is the candidate count fetched per leg.
	TopK int `yaml:"top_k" json:"top_k"`

	// RerankTopK is the candidate count passed to the reranker.
	RerankTopK int `yaml:"rerank_top_k" json:"rerank_top_k"`

	// VectorWeight and BM25Weight steer RRF fusion.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	BM25Weight   float64 `yaml:"bm25_weight" json:"bm25_weight"`
}

// WorkerConfig configures the task consumer.
type WorkerConfig struct {
	// IngestQueue and QueryQueue are the Redis list names consumed.
	IngestQueue string `yaml:"ingest_queue" json:"ingest_queue"`
	QueryQueue  string `yaml:"query_queue" json:"query_queue"`

	// ResultTTL bounds how long task results stay readable.
	ResultTTL time.Duration `yaml:"result_ttl" json:"result_ttl"`

	// Concurrency is the number of consumer goroutines.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// SynonymsConfig configures query expansion.
type SynonymsConfig struct {
	// Path points to the synonym dictionary JSON. Empty uses the
	// embedded default dictionary.
	Path string `yaml:"path" json:"path"`

	// Watch reloads the dictionary when the file changes.
	Watch bool `yaml:"watch" json:"watch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// HTTPConfig configures the health/stats endpoint served in worker mode.
type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8080". Empty disables the endpoint.
	Addr string `yaml:"addr" json:"addr"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Chroma: ChromaConfig{
			Host:           "localhost",
			Port:           8000,
			Collection:     "documents",
			PoolMin:        2,
			PoolMax:        10,
			BorrowTimeout:  30 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			ResultTTL: 3600 * time.Second,
			BM25TTL:   7200 * time.Second,
		},
		Embedding: EmbeddingConfig{
			ServiceURL:   "http://localhost:8001",
			Model:        "intfloat/multilingual-e5-large-instruct",
			Dimension:    1024,
			MaxSeqLength: 512,
			BatchSize:    32,
			Timeout:      30 * time.Second,
			CacheSize:    512,
		},
		Reranker: RerankerConfig{
			ServiceURL: "http://localhost:8002",
			Model:      "BAAI/bge-reranker-v2-m3",
			MaxLength:  512,
			Timeout:    30 * time.Second,
		},
		Search: SearchConfig{
			TopK:         30,
			RerankTopK:   10,
			VectorWeight: 0.7,
			BM25Weight:   0.3,
		},
		Worker: WorkerConfig{
			IngestQueue: "docrank:queue:document_processing",
			QueryQueue:  "docrank:queue:queries",
			ResultTTL:   time.Hour,
			Concurrency: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr: "",
		},
	}
}

// Load builds the effective configuration for dir:
// defaults, then docrank.yaml/docrank.yml in dir, then .env in dir,
// then environment variables, then validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// .env values become environment variables without clobbering
	// anything already exported, matching dotenv semantics.
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile merges docrank.yaml or docrank.yml when present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"docrank.yaml", "docrank.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// applyEnvOverrides applies the recognized environment variables.
func (c *Config) applyEnvOverrides() {
	setString(&c.Chroma.URL, "CHROMADB_URL")
	setString(&c.Chroma.Host, "CHROMADB_HOST")
	setInt(&c.Chroma.Port, "CHROMADB_PORT")
	setString(&c.Chroma.Collection, "CHROMADB_COLLECTION")
	setInt(&c.Chroma.PoolMin, "CHROMADB_POOL_MIN")
	setInt(&c.Chroma.PoolMax, "CHROMADB_POOL_MAX")

	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Postgres.URL, "DATABASE_URL")

	setString(&c.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&c.Embedding.Dimension, "EMBEDDING_DIMENSION")
	setInt(&c.Embedding.MaxSeqLength, "EMBEDDING_MAX_SEQ_LENGTH")
	setInt(&c.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")
	setString(&c.Embedding.ServiceURL, "LOCAL_EMBEDDING_URL")

	setString(&c.Reranker.Model, "RERANKER_MODEL")
	setInt(&c.Reranker.MaxLength, "RERANKER_MAX_LENGTH")
	setString(&c.Reranker.ServiceURL, "LOCAL_RERANKER_URL")

	setString(&c.Worker.IngestQueue, "WORKER_INGEST_QUEUE")
	setString(&c.Worker.QueryQueue, "WORKER_QUERY_QUEUE")
	setInt(&c.Worker.Concurrency, "WORKER_CONCURRENCY")

	setString(&c.Synonyms.Path, "SYNONYMS_PATH")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
}

// Validate checks the effective configuration for contradictions.
func (c *Config) Validate() error {
	if c.Chroma.PoolMin < 0 {
		return fmt.Errorf("chroma pool_min must be >= 0, got %d", c.Chroma.PoolMin)
	}
	if c.Chroma.PoolMax < 1 {
		return fmt.Errorf("chroma pool_max must be >= 1, got %d", c.Chroma.PoolMax)
	}
	if c.Chroma.PoolMin > c.Chroma.PoolMax {
		return fmt.Errorf("chroma pool_min (%d) exceeds pool_max (%d)", c.Chroma.PoolMin, c.Chroma.PoolMax)
	}
	if c.Chroma.URL != "" {
		if _, err := url.Parse(c.Chroma.URL); err != nil {
			return fmt.Errorf("invalid CHROMADB_URL: %w", err)
		}
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.VectorWeight < 0 || c.Search.BM25Weight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
