// Package cache stores search results and serialized BM25 indices in Redis.
// Every operation degrades to a miss or no-op on store failure so retrieval
// keeps working without the cache tier.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resultPrefix = "result:"
	bm25Prefix   = "bm25:"

	// DefaultResultTTL bounds how long a query result stays valid.
	DefaultResultTTL = time.Hour
	// DefaultBM25TTL bounds how long a serialized lexical index stays valid.
	DefaultBM25TTL = 2 * time.Hour
)

// Store is the two-namespace cache tier.
type Store struct {
	client    *redis.Client
	resultTTL time.Duration
	bm25TTL   time.Duration
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithResultTTL overrides the result namespace TTL.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.resultTTL = ttl
		}
	}
}

// WithBM25TTL overrides the index namespace TTL.
func WithBM25TTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.bm25TTL = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store on top of an existing Redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		resultTTL: DefaultResultTTL,
		bm25TTL:   DefaultBM25TTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResultKey derives the cache key for one search: the MD5 of the canonical
// JSON of the lowercased trimmed query, the access level, and the sorted
// search params. Identical searches always map to the same key.
func ResultKey(query string, accessLevel int, params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	canonical, err := json.Marshal(map[string]any{
		"query":        strings.ToLower(strings.TrimSpace(query)),
		"access_level": accessLevel,
		"params":       params,
	})
	if err != nil {
		// Params are plain scalars in practice; fall back to the query alone.
		canonical = []byte(strings.ToLower(strings.TrimSpace(query)))
	}
	sum := md5.Sum(canonical)
	return resultPrefix + hex.EncodeToString(sum[:])
}

func bm25Key(accessLevel int) string {
	return bm25Prefix + "index_" + strconv.Itoa(accessLevel)
}

// GetResult loads a cached search result into dest and stamps it as served
// from cache. Returns false on miss or any store error.
func (s *Store) GetResult(ctx context.Context, query string, accessLevel int, params map[string]any, dest any) bool {
	key := ResultKey(query, accessLevel, params)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.logger.Debug("result cache miss", slog.String("key", key))
		return false
	}
	if err != nil {
		s.logger.Warn("result cache read failed", slog.String("error", err.Error()))
		return false
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("result cache entry corrupt", slog.String("key", key))
		return false
	}
	entry["from_cache"] = true
	entry["cache_hit_time"] = float64(time.Now().UnixMilli()) / 1000.0

	stamped, err := json.Marshal(entry)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(stamped, dest); err != nil {
		s.logger.Warn("result cache decode failed", slog.String("error", err.Error()))
		return false
	}

	s.logger.Info("result cache hit",
		slog.String("query", truncate(query, 50)),
		slog.Int("access_level", accessLevel))
	return true
}

// SetResult stores a search result under its canonical key with the cache
// bookkeeping fields added. Returns false if nothing was stored.
func (s *Store) SetResult(ctx context.Context, query string, accessLevel int, params map[string]any, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("result cache encode failed", slog.String("error", err.Error()))
		return false
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("result cache encode failed", slog.String("error", err.Error()))
		return false
	}
	entry["cached_at"] = float64(time.Now().UnixMilli()) / 1000.0
	entry["cache_ttl"] = int(s.resultTTL.Seconds())
	entry["from_cache"] = false

	data, err := json.Marshal(entry)
	if err != nil {
		return false
	}

	key := ResultKey(query, accessLevel, params)
	if err := s.client.Set(ctx, key, data, s.resultTTL).Err(); err != nil {
		s.logger.Warn("result cache write failed", slog.String("error", err.Error()))
		return false
	}
	s.logger.Debug("result cached",
		slog.String("query", truncate(query, 50)),
		slog.Int("access_level", accessLevel),
		slog.Int("ttl_seconds", int(s.resultTTL.Seconds())))
	return true
}

// bm25Envelope wraps a serialized index with its cache bookkeeping.
type bm25Envelope struct {
	CachedAt    float64         `json:"cached_at"`
	CacheTTL    int             `json:"cache_ttl"`
	AccessLevel int             `json:"access_level"`
	Index       json.RawMessage `json:"index"`
}

// GetBM25 returns the serialized lexical index for an access level, or
// false on miss or store error.
func (s *Store) GetBM25(ctx context.Context, accessLevel int) ([]byte, bool) {
	key := bm25Key(accessLevel)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.logger.Debug("bm25 cache miss", slog.Int("access_level", accessLevel))
		return nil, false
	}
	if err != nil {
		s.logger.Warn("bm25 cache read failed", slog.String("error", err.Error()))
		return nil, false
	}

	var envelope bm25Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn("bm25 cache entry corrupt", slog.Int("access_level", accessLevel))
		return nil, false
	}
	s.logger.Info("bm25 index loaded from cache", slog.Int("access_level", accessLevel))
	return envelope.Index, true
}

// SetBM25 stores a serialized lexical index for an access level.
func (s *Store) SetBM25(ctx context.Context, accessLevel int, blob []byte) bool {
	envelope := bm25Envelope{
		CachedAt:    float64(time.Now().UnixMilli()) / 1000.0,
		CacheTTL:    int(s.bm25TTL.Seconds()),
		AccessLevel: accessLevel,
		Index:       blob,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Warn("bm25 cache encode failed", slog.String("error", err.Error()))
		return false
	}

	if err := s.client.Set(ctx, bm25Key(accessLevel), data, s.bm25TTL).Err(); err != nil {
		s.logger.Warn("bm25 cache write failed", slog.String("error", err.Error()))
		return false
	}
	s.logger.Info("bm25 index cached",
		slog.Int("access_level", accessLevel),
		slog.Int("ttl_seconds", int(s.bm25TTL.Seconds())))
	return true
}

// Invalidate deletes every key matching the pattern and returns how many
// were removed. SCAN keeps the walk incremental on large keyspaces.
func (s *Store) Invalidate(ctx context.Context, pattern string) int {
	deleted := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			s.logger.Warn("cache invalidation delete failed", slog.String("error", err.Error()))
		} else {
			deleted += int(n)
		}
		batch = batch[:0]
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		s.logger.Warn("cache invalidation scan failed", slog.String("error", err.Error()))
	}
	if deleted > 0 {
		s.logger.Info("cache invalidated",
			slog.String("pattern", pattern),
			slog.Int("deleted", deleted))
	}
	return deleted
}

// InvalidateResults drops the whole result namespace.
func (s *Store) InvalidateResults(ctx context.Context) int {
	return s.Invalidate(ctx, resultPrefix+"*")
}

// InvalidateBM25 drops the serialized index for one access level.
func (s *Store) InvalidateBM25(ctx context.Context, accessLevel int) int {
	return s.Invalidate(ctx, bm25Key(accessLevel))
}

// InvalidateBM25All drops every serialized index.
func (s *Store) InvalidateBM25All(ctx context.Context) int {
	return s.Invalidate(ctx, bm25Prefix+"*")
}

// Stats reports key counts per namespace and Redis memory figures.
type Stats struct {
	ResultKeys    int    `json:"result_keys"`
	BM25Keys      int    `json:"bm25_keys"`
	MemoryUsed    string `json:"redis_memory_used"`
	ResultTTLSecs int    `json:"result_ttl_seconds"`
	BM25TTLSecs   int    `json:"bm25_ttl_seconds"`
}

// Stats counts cached entries per namespace. Counting errors leave the
// affected counter at zero.
func (s *Store) Stats(ctx context.Context) Stats {
	stats := Stats{
		ResultTTLSecs: int(s.resultTTL.Seconds()),
		BM25TTLSecs:   int(s.bm25TTL.Seconds()),
		MemoryUsed:    "n/a",
	}
	stats.ResultKeys = s.countKeys(ctx, resultPrefix+"*")
	stats.BM25Keys = s.countKeys(ctx, bm25Prefix+"*")

	if info, err := s.client.Info(ctx, "memory").Result(); err == nil {
		for _, line := range strings.Split(info, "\n") {
			if v, ok := strings.CutPrefix(line, "used_memory_human:"); ok {
				stats.MemoryUsed = strings.TrimSpace(v)
				break
			}
		}
	}
	return stats
}

func (s *Store) countKeys(ctx context.Context, pattern string) int {
	count := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("cache key scan failed", slog.String("error", err.Error()))
	}
	return count
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Healthy reports whether Redis answers within a short budget.
func (s *Store) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.Ping(ctx) == nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
