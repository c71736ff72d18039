package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/docrank/docrank/internal/cache"
	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/morph"
	"github.com/docrank/docrank/internal/store"
)

// ChunkSource provides the corpus snapshot an index is built from.
type ChunkSource interface {
	ChunksForLevel(ctx context.Context, accessLevel int) ([]store.Chunk, error)
}

// IndexManager owns one lazy BM25 index per clearance level. First use per
// level adopts the cached serialized index when one is structurally valid,
// and otherwise builds from the vector store and caches the result.
// Concurrent first-use collapses to a single build.
type IndexManager struct {
	source    ChunkSource
	cache     *cache.Store
	tokenizer *morph.Tokenizer
	logger    *slog.Logger

	mu      sync.RWMutex
	indexes map[int]*Index

	group    singleflight.Group
	rebuilds atomic.Int64
}

// ManagerOption configures an IndexManager.
type ManagerOption func(*IndexManager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *IndexManager) {
		m.logger = logger
	}
}

// NewIndexManager creates a manager over the chunk source. cacheStore may be
// nil, in which case every first use per level builds from the source.
func NewIndexManager(source ChunkSource, cacheStore *cache.Store, opts ...ManagerOption) *IndexManager {
	m := &IndexManager{
		source:    source,
		cache:     cacheStore,
		tokenizer: morph.NewTokenizer(),
		indexes:   make(map[int]*Index),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tokenizer returns the pipeline indexes are built with. Queries must be
// tokenized with the same one or the scores are meaningless.
func (m *IndexManager) Tokenizer() *morph.Tokenizer {
	return m.tokenizer
}

// Ensure returns the index for an access level, initializing it on first
// use. Duplicate concurrent calls for the same level share one build.
func (m *IndexManager) Ensure(ctx context.Context, accessLevel int) (*Index, error) {
	m.mu.RLock()
	idx, ok := m.indexes[accessLevel]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := m.group.Do(strconv.Itoa(accessLevel), func() (any, error) {
		m.mu.RLock()
		existing, ok := m.indexes[accessLevel]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		idx, err := m.initialize(ctx, accessLevel)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.indexes[accessLevel] = idx
		m.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// initialize adopts the cached index or builds a fresh one.
func (m *IndexManager) initialize(ctx context.Context, accessLevel int) (*Index, error) {
	if m.cache != nil {
		if blob, ok := m.cache.GetBM25(ctx, accessLevel); ok {
			var idx Index
			if err := json.Unmarshal(blob, &idx); err == nil && idx.Valid() {
				m.logger.Info("bm25 index adopted from cache",
					slog.Int("access_level", accessLevel),
					slog.Int("docs", idx.Len()))
				return &idx, nil
			}
			// Corrupt entry; drop it and rebuild.
			m.logger.Warn("cached bm25 index unusable, rebuilding",
				slog.Int("access_level", accessLevel))
			m.cache.InvalidateBM25(ctx, accessLevel)
		}
	}

	start := time.Now()
	chunks, err := m.source.ChunksForLevel(ctx, accessLevel)
	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, "bm25 corpus read", err)
	}

	idx := BuildIndex(chunks, m.tokenizer)
	m.rebuilds.Add(1)

	if m.cache != nil {
		if blob, err := json.Marshal(idx); err == nil {
			m.cache.SetBM25(ctx, accessLevel, blob)
		}
	}

	m.logger.Info("bm25 index built",
		slog.Int("access_level", accessLevel),
		slog.Int("docs", idx.Len()),
		slog.Duration("took", time.Since(start)))
	return idx, nil
}

// Invalidate drops every in-process index together with the cached index
// and result namespaces. Every write path must call this before reporting
// success so the next query observes the new corpus.
func (m *IndexManager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	m.indexes = make(map[int]*Index)
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.InvalidateBM25All(ctx)
		m.cache.InvalidateResults(ctx)
	}
	m.logger.Info("bm25 indexes invalidated")
}

// Rebuilds counts how many indexes were built from the vector store since
// startup. Cache adoptions do not count.
func (m *IndexManager) Rebuilds() int64 {
	return m.rebuilds.Load()
}

// Snapshot reports the initialized levels and their corpus sizes.
func (m *IndexManager) Snapshot() map[int]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	levels := make(map[int]int, len(m.indexes))
	for level, idx := range m.indexes {
		levels[level] = idx.Len()
	}
	return levels
}
