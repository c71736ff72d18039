package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docrank/docrank/internal/cache"
	"github.com/docrank/docrank/internal/embed"
	"github.com/docrank/docrank/internal/expand"
	"github.com/docrank/docrank/internal/rerank"
	"github.com/docrank/docrank/internal/store"
)

// Default search parameters.
const (
	DefaultTopK         = 30
	DefaultRerankTopK   = 10
	DefaultVectorWeight = 0.7
	DefaultBM25Weight   = 0.3
)

// Params are the caller-tunable knobs of one hybrid search. They are part
// of the result-cache key: two searches with different params never share
// a cache entry.
type Params struct {
	TopK         int     `json:"top_k"`
	RerankTopK   int     `json:"rerank_top_k"`
	VectorWeight float64 `json:"vector_weight"`
	BM25Weight   float64 `json:"bm25_weight"`
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		TopK:         DefaultTopK,
		RerankTopK:   DefaultRerankTopK,
		VectorWeight: DefaultVectorWeight,
		BM25Weight:   DefaultBM25Weight,
	}
}

// withDefaults fills only fields whose zero value is meaningless. Zero
// weights stay: they deliberately silence a leg. A zero RerankTopK stays:
// it truncates the final list to nothing, as the historical behavior did.
func (p Params) withDefaults() Params {
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.RerankTopK < 0 {
		p.RerankTopK = DefaultRerankTopK
	}
	return p
}

func (p Params) cacheKey() map[string]any {
	return map[string]any{
		"top_k":         p.TopK,
		"rerank_top_k":  p.RerankTopK,
		"vector_weight": p.VectorWeight,
		"bm25_weight":   p.BM25Weight,
	}
}

// Weights echoes the leg weights used for a search.
type Weights struct {
	Vector float64 `json:"vector"`
	BM25   float64 `json:"bm25"`
}

// Source is one chunk surviving the full pipeline.
type Source struct {
	ChunkID         string  `json:"chunk_id"`
	DocumentTitle   string  `json:"document_title"`
	ChunkIndex      int     `json:"chunk_index"`
	AccessLevel     int     `json:"access_level"`
	SimilarityScore float64 `json:"similarity_score"`
	RerankScore     float64 `json:"rerank_score"`
	RawLogit        float64 `json:"raw_logit,omitempty"`
	Text            string  `json:"text"`
}

// Report is the result envelope of one hybrid search. It marshals to the
// wire shape and round-trips unchanged through the result cache.
type Report struct {
	Success           bool     `json:"success"`
	Query             string   `json:"query"`
	AccessLevel       int      `json:"access_level"`
	SearchMethod      string   `json:"search_method"`
	Context           string   `json:"context"`
	Sources           []Source `json:"sources"`
	TotalFound        int      `json:"total_found"`
	VectorCount       int      `json:"vector_results_count"`
	BM25Count         int      `json:"bm25_results_count"`
	FusedCount        int      `json:"fused_results_count"`
	RerankedCount     int      `json:"reranked_count"`
	FilteredCount     int      `json:"filtered_count"`
	BestScore         float64  `json:"best_relevance_score"`
	RelevanceFiltered bool     `json:"relevance_filtered"`
	Weights           Weights  `json:"weights"`
	SearchTimeMS      float64  `json:"search_time_ms"`
	FromCache         bool     `json:"from_cache"`
	DetectedLanguage  string   `json:"detected_language,omitempty"`
	InstructionPrefix string   `json:"instruction_prefix,omitempty"`
	EmbeddingModel    string   `json:"embedding_model,omitempty"`
	EmbeddingTimeMS   float64  `json:"embedding_time_ms"`
	EmbeddingTokens   int      `json:"embedding_tokens"`
	RerankingModel    string   `json:"reranking_model,omitempty"`
	RerankDegraded    bool     `json:"rerank_degraded,omitempty"`
}

// VectorSearcher is the slice of the vector store the retriever needs.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK, accessLevel int) ([]store.VectorHit, error)
	Stats(ctx context.Context) (store.CollectionStats, error)
}

// Retriever runs the hybrid pipeline: both legs concurrently, fusion,
// reranking, adaptive filtering, context assembly. Leg failures degrade to
// an empty leg instead of failing the search; only context cancellation
// surfaces as an error.
type Retriever struct {
	embedder embed.Embedder
	reranker rerank.Reranker
	vectors  VectorSearcher
	indexes  *IndexManager
	expander *expand.Expander
	results  *cache.Store
	fuser    *Fuser
	params   Params
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithExpander enables synonym expansion on the lexical leg.
func WithExpander(e *expand.Expander) Option {
	return func(r *Retriever) {
		r.expander = e
	}
}

// WithResultCache enables the result cache tier.
func WithResultCache(c *cache.Store) Option {
	return func(r *Retriever) {
		r.results = c
	}
}

// WithParams overrides the default search parameters.
func WithParams(p Params) Option {
	return func(r *Retriever) {
		r.params = p.withDefaults()
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever wires the pipeline. The index manager supplies both the
// lexical indexes and the tokenizer, so queries and documents always go
// through the same normalization.
func NewRetriever(embedder embed.Embedder, reranker rerank.Reranker, vectors VectorSearcher, indexes *IndexManager, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		reranker: reranker,
		vectors:  vectors,
		indexes:  indexes,
		fuser:    NewFuser(),
		params:   DefaultParams(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search runs a hybrid search with the retriever's default parameters.
func (r *Retriever) Search(ctx context.Context, query string, accessLevel int) (*Report, error) {
	return r.HybridSearch(ctx, query, accessLevel, r.params)
}

// Params returns the retriever's default search parameters.
func (r *Retriever) Params() Params {
	return r.params
}

// HybridSearch runs the full pipeline for one query.
func (r *Retriever) HybridSearch(ctx context.Context, query string, accessLevel int, params Params) (*Report, error) {
	start := time.Now()
	params = params.withDefaults()

	if r.results != nil {
		var cached Report
		if r.results.GetResult(ctx, query, accessLevel, params.cacheKey(), &cached) {
			return &cached, nil
		}
	}

	idx, err := r.indexes.Ensure(ctx, accessLevel)
	if err != nil {
		r.logger.Warn("bm25 leg unavailable", slog.String("error", err.Error()))
		idx = nil
	}

	var (
		vectorLeg  []Candidate
		lexicalLeg []Candidate
		queryEmb   *embed.QueryEmbedding
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		emb, embErr := r.embedder.EmbedQuery(gctx, query)
		if embErr != nil {
			r.logger.Warn("query embedding failed", slog.String("error", embErr.Error()))
			return nil
		}
		queryEmb = emb
		hits, searchErr := r.vectors.Search(gctx, emb.Vector, params.TopK, accessLevel)
		if searchErr != nil {
			r.logger.Warn("vector leg failed", slog.String("error", searchErr.Error()))
			return nil
		}
		vectorLeg = vectorCandidates(hits)
		return nil
	})
	g.Go(func() error {
		lexicalLeg = r.lexicalLeg(idx, query, accessLevel, params.TopK)
		return nil
	})
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	fused := r.fuser.Fuse(vectorLeg, lexicalLeg, params.VectorWeight, params.BM25Weight)

	report := &Report{
		Success:        true,
		Query:          query,
		AccessLevel:    accessLevel,
		SearchMethod:   "hybrid",
		Sources:        []Source{},
		TotalFound:     len(fused),
		VectorCount:    len(vectorLeg),
		BM25Count:      len(lexicalLeg),
		FusedCount:     len(fused),
		Weights:        Weights{Vector: params.VectorWeight, BM25: params.BM25Weight},
		EmbeddingModel: r.embedder.ModelName(),
		RerankingModel: r.reranker.ModelName(),
	}
	if queryEmb != nil {
		report.DetectedLanguage = queryEmb.Language
		report.InstructionPrefix = queryEmb.Prefix
		report.EmbeddingTimeMS = queryEmb.TotalMS
		report.EmbeddingTokens = queryEmb.Tokens
	}

	if len(fused) > 0 && params.RerankTopK > 0 {
		r.rerankAndFilter(ctx, query, fused, params.RerankTopK, report)
	} else {
		limit := min(params.RerankTopK, len(fused))
		report.Sources = sourcesFromFused(fused[:limit])
		report.FilteredCount = len(report.Sources)
	}

	report.Context = AssembleContext(report.Sources)
	report.SearchTimeMS = elapsedMS(start)

	if r.results != nil {
		r.results.SetResult(ctx, query, accessLevel, params.cacheKey(), report)
	}

	r.logger.Info("hybrid search complete",
		slog.String("query", truncateQuery(query)),
		slog.Int("vector", report.VectorCount),
		slog.Int("bm25", report.BM25Count),
		slog.Int("fused", report.FusedCount),
		slog.Int("final", len(report.Sources)),
		slog.Float64("took_ms", report.SearchTimeMS))
	return report, nil
}

// lexicalLeg expands and tokenizes the query, scores it against the index,
// and keeps the topK chunks visible at accessLevel.
func (r *Retriever) lexicalLeg(idx *Index, query string, accessLevel, topK int) []Candidate {
	if idx == nil || idx.Len() == 0 {
		return nil
	}

	lexQuery := query
	if r.expander != nil {
		exp := r.expander.ExpandSmart(query)
		lexQuery = exp.ExpandedQuery
		if exp.ExpansionApplied {
			r.logger.Debug("query expanded",
				slog.String("original", query),
				slog.String("expanded", lexQuery),
				slog.Int("synonyms_added", exp.SynonymsAdded))
		}
	}

	tokens := r.indexes.Tokenizer().Tokenize(lexQuery)
	scores := idx.Scores(tokens)

	candidates := make([]Candidate, 0, len(scores))
	for i, score := range scores {
		meta := idx.Metadatas[i]
		if lvl, ok := meta.Int("access_level"); ok && lvl > accessLevel {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:       idx.IDs[i],
			Content:  idx.Docs[i],
			Metadata: meta,
			Score:    score,
			Source:   SourceBM25,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates
}

// rerankAndFilter scores the fused contents with the cross-encoder and
// keeps only what survives the adaptive thresholds. On transport failure
// the fusion order passes through untouched.
func (r *Retriever) rerankAndFilter(ctx context.Context, query string, fused []Fused, topK int, report *Report) {
	contents := make([]string, len(fused))
	for i, f := range fused {
		contents[i] = f.Content
	}

	resp, err := r.reranker.Rerank(ctx, query, contents, topK)
	if err != nil {
		r.logger.Warn("reranking failed, keeping fusion order", slog.String("error", err.Error()))
		report.Sources = sourcesFromFused(fused[:min(topK, len(fused))])
		report.FilteredCount = len(report.Sources)
		return
	}
	report.RerankedCount = len(resp.Results)
	report.RerankDegraded = resp.Degraded

	scores := make([]float64, len(resp.Results))
	for i, res := range resp.Results {
		scores[i] = res.Score
	}
	th := AdaptiveThresholds(scores)
	report.BestScore = th.Best

	r.logger.Info("adaptive thresholds",
		slog.Float64("best", th.Best),
		slog.Float64("worst", th.Worst),
		slog.Float64("range", th.Range),
		slog.Float64("high", th.High),
		slog.Float64("general", th.General))

	if th.OffCorpus() {
		r.logger.Info("query treated as off-corpus chatter", slog.Float64("best", th.Best))
		report.RelevanceFiltered = true
		return
	}

	for _, res := range resp.Results {
		if !th.Keep(res.Score) || res.Index >= len(fused) {
			continue
		}
		src := sourceFromFused(fused[res.Index])
		src.RerankScore = res.Score
		src.RawLogit = res.RawLogit
		report.Sources = append(report.Sources, src)
	}
	report.FilteredCount = len(report.Sources)
	if len(report.Sources) == 0 {
		report.RelevanceFiltered = true
	}
}

func vectorCandidates(hits []store.VectorHit) []Candidate {
	candidates := make([]Candidate, len(hits))
	for i, hit := range hits {
		candidates[i] = Candidate{
			ID:       hit.ID,
			Content:  hit.Content,
			Metadata: hit.Metadata,
			Score:    hit.Similarity,
			Source:   SourceVector,
			Rank:     i + 1,
		}
	}
	return candidates
}

func sourceFromFused(f Fused) Source {
	src := Source{
		ChunkID:       f.ID,
		DocumentTitle: f.Metadata.DocumentTitle(),
		Text:          f.Content,
	}
	if idx, ok := f.Metadata.Int("chunk_index"); ok {
		src.ChunkIndex = idx
	}
	if lvl, ok := f.Metadata.Int("access_level"); ok {
		src.AccessLevel = lvl
	}
	if f.Source == SourceVector {
		src.SimilarityScore = f.Score
	}
	return src
}

func sourcesFromFused(fused []Fused) []Source {
	sources := make([]Source, 0, len(fused))
	for _, f := range fused {
		sources = append(sources, sourceFromFused(f))
	}
	return sources
}

// AssembleContext renders one numbered fragment per source, separated by
// blank lines, ready to prepend to a generation prompt.
func AssembleContext(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	fragments := make([]string, len(sources))
	for i, s := range sources {
		fragments[i] = fmt.Sprintf("[Источник %d: %s]\n%s\n", i+1, s.DocumentTitle, s.Text)
	}
	return strings.Join(fragments, "\n")
}

// BatchEntry pairs one query of a batch with its report.
type BatchEntry struct {
	QueryIndex int     `json:"query_index"`
	Query      string  `json:"query"`
	Result     *Report `json:"result"`
}

// BatchReport summarizes a multi-query search.
type BatchReport struct {
	Success          bool         `json:"success"`
	BatchSize        int          `json:"batch_size"`
	ProcessedQueries int          `json:"processed_queries"`
	CacheHits        int          `json:"cache_hits"`
	CacheHitRate     float64      `json:"cache_hit_rate"`
	Results          []BatchEntry `json:"results"`
	BatchTimeMS      float64      `json:"batch_time_ms"`
	AvgQueryTimeMS   float64      `json:"average_time_per_query_ms"`
}

// BatchSearch runs the queries sequentially, sharing the warm index and the
// result cache. A failing query yields a failed entry; the batch proceeds.
func (r *Retriever) BatchSearch(ctx context.Context, queries []string, accessLevel int, params Params) (*BatchReport, error) {
	start := time.Now()

	batch := &BatchReport{
		Success:   true,
		BatchSize: len(queries),
		Results:   make([]BatchEntry, 0, len(queries)),
	}
	for i, q := range queries {
		report, err := r.HybridSearch(ctx, q, accessLevel, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			r.logger.Warn("batch query failed",
				slog.Int("query_index", i),
				slog.String("error", err.Error()))
			report = &Report{
				Query:        q,
				AccessLevel:  accessLevel,
				SearchMethod: "hybrid",
				Sources:      []Source{},
			}
		}
		if report.FromCache {
			batch.CacheHits++
		}
		batch.Results = append(batch.Results, BatchEntry{QueryIndex: i, Query: q, Result: report})
	}

	batch.ProcessedQueries = len(batch.Results)
	batch.BatchTimeMS = elapsedMS(start)
	if len(queries) > 0 {
		batch.CacheHitRate = float64(batch.CacheHits) / float64(len(queries))
		batch.AvgQueryTimeMS = batch.BatchTimeMS / float64(len(queries))
	}

	r.logger.Info("batch search complete",
		slog.Int("queries", len(queries)),
		slog.Int("cache_hits", batch.CacheHits),
		slog.Float64("took_ms", batch.BatchTimeMS))
	return batch, nil
}

// RetrieverStats describes the retrieval stack for diagnostics endpoints.
type RetrieverStats struct {
	BM25Initialized bool                  `json:"bm25_initialized"`
	BM25DocsCount   int                   `json:"bm25_docs_count"`
	BM25Levels      map[int]int           `json:"bm25_levels"`
	BM25Rebuilds    int64                 `json:"bm25_rebuilds"`
	Collection      store.CollectionStats `json:"collection_stats"`
	SearchMethods   []string              `json:"search_methods"`
	DefaultWeights  Weights               `json:"default_weights"`
}

// Stats reports index state and collection counters.
func (r *Retriever) Stats(ctx context.Context) RetrieverStats {
	snapshot := r.indexes.Snapshot()
	stats := RetrieverStats{
		BM25Initialized: len(snapshot) > 0,
		BM25Levels:      snapshot,
		BM25Rebuilds:    r.indexes.Rebuilds(),
		SearchMethods:   []string{"vector", "bm25", "hybrid"},
		DefaultWeights:  Weights{Vector: DefaultVectorWeight, BM25: DefaultBM25Weight},
	}
	for _, n := range snapshot {
		stats.BM25DocsCount += n
	}
	if coll, err := r.vectors.Stats(ctx); err == nil {
		stats.Collection = coll
	}
	return stats
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func truncateQuery(q string) string {
	runes := []rune(q)
	if len(runes) <= 80 {
		return q
	}
	return string(runes[:80]) + "..."
}
