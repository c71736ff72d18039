package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docrank/docrank/internal/errors"
)

// DefaultCacheSize is the default LRU capacity per cache.
const DefaultCacheSize = 512

// Cache keys carry a role marker because the same text embeds differently
// as a query (prefixed) and as a document (bare).
const (
	roleQuery    = "query"
	roleDocument = "document"
)

// CachedEmbedder wraps an Embedder with LRU caches keyed by text hash.
// Repeated queries skip the inference round-trip entirely; reprocessing an
// unchanged document reuses its chunk vectors.
type CachedEmbedder struct {
	inner   Embedder
	queries *lru.Cache[string, *QueryEmbedding]
	docs    *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// Verify interface implementation at compile time
var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with caches of cacheSize entries each.
func NewCachedEmbedder(inner Embedder, cacheSize int) (*CachedEmbedder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	queries, err := lru.New[string, *QueryEmbedding](cacheSize)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, "failed to create query embedding cache", err)
	}
	docs, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, "failed to create document embedding cache", err)
	}

	return &CachedEmbedder{
		inner:   inner,
		queries: queries,
		docs:    docs,
	}, nil
}

// cacheKey builds a cache key from the role, text, and model name, so that a
// model change invalidates everything.
func (c *CachedEmbedder) cacheKey(role, text string) string {
	h := sha256.Sum256([]byte(role + "\x00" + text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(h[:])
}

// EmbedQuery returns a cached embedding when available.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, query string) (*QueryEmbedding, error) {
	key := c.cacheKey(roleQuery, query)
	if cached, ok := c.queries.Get(key); ok {
		c.hits.Add(1)
		return cached, nil
	}
	c.misses.Add(1)

	result, err := c.inner.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	c.queries.Add(key, result)
	return result, nil
}

// EmbedDocuments embeds only the texts missing from the cache and fills the
// rest from cached vectors. Token and timing totals cover the uncached
// subset, since nothing else touched the service.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) (*BatchEmbedding, error) {
	vectors := make([][]float32, len(texts))

	var uncachedIndices []int
	var uncachedTexts []string
	for i, text := range texts {
		if cached, ok := c.docs.Get(c.cacheKey(roleDocument, text)); ok {
			vectors[i] = cached
			c.hits.Add(1)
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
			c.misses.Add(1)
		}
	}

	result := &BatchEmbedding{Vectors: vectors}
	if len(uncachedTexts) == 0 {
		return result, nil
	}

	batch, err := c.inner.EmbedDocuments(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range uncachedIndices {
		vectors[idx] = batch.Vectors[i]
		c.docs.Add(c.cacheKey(roleDocument, texts[idx]), batch.Vectors[i])
	}

	result.TotalTokens = batch.TotalTokens
	result.Device = batch.Device
	result.InferenceMS = batch.InferenceMS
	result.TotalMS = batch.TotalMS
	return result, nil
}

// Dimension returns the embedding vector size.
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// ModelName returns the model identifier.
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks the underlying embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases the underlying embedder. Cached vectors are dropped.
func (c *CachedEmbedder) Close() error {
	c.queries.Purge()
	c.docs.Purge()
	return c.inner.Close()
}

// CacheStats reports cache effectiveness for the stats endpoint.
type CacheStats struct {
	QueryEntries    int     `json:"query_entries"`
	DocumentEntries int     `json:"document_entries"`
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	HitRate         float64 `json:"hit_rate"`
}

// Stats returns a snapshot of cache counters.
func (c *CachedEmbedder) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	stats := CacheStats{
		QueryEntries:    c.queries.Len(),
		DocumentEntries: c.docs.Len(),
		Hits:            hits,
		Misses:          misses,
	}
	if total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
