package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/docrank/docrank/internal/embed"
	"github.com/docrank/docrank/internal/rerank"
	"github.com/docrank/docrank/internal/search"
	"github.com/docrank/docrank/internal/store"
)

// RAGPipeline answers generation-bound queries: embed the query, fetch
// the top vector candidates under the clearance filter, rerank, keep
// every reranked passage, and assemble the prompt context. Unlike the
// hybrid retriever it has no lexical leg, no fusion, and no relevance
// threshold; the generator downstream sees the model's full top slice.
type RAGPipeline struct {
	embedder embed.Embedder
	vectors  search.VectorSearcher
	reranker rerank.Reranker
	logger   *slog.Logger
}

// RAGOption configures a RAGPipeline.
type RAGOption func(*RAGPipeline)

// WithRAGLogger sets the logger.
func WithRAGLogger(logger *slog.Logger) RAGOption {
	return func(p *RAGPipeline) {
		p.logger = logger
	}
}

// NewRAGPipeline wires the query path used by rag_query tasks.
func NewRAGPipeline(embedder embed.Embedder, vectors search.VectorSearcher, reranker rerank.Reranker, opts ...RAGOption) *RAGPipeline {
	p := &RAGPipeline{
		embedder: embedder,
		vectors:  vectors,
		reranker: reranker,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RAGReport is the result envelope of one rag_query task.
type RAGReport struct {
	Success           bool            `json:"success"`
	Query             string          `json:"query"`
	AccessLevel       int             `json:"access_level"`
	Context           string          `json:"context"`
	Sources           []search.Source `json:"sources"`
	TotalFound        int             `json:"total_found"`
	RerankedCount     int             `json:"reranked_count"`
	FilteredCount     int             `json:"filtered_count"`
	BestScore         float64         `json:"best_relevance_score"`
	RelevanceFiltered bool            `json:"relevance_filtered"`
	Reason            string          `json:"reason,omitempty"`
	HasChatContext    bool            `json:"has_chat_context,omitempty"`
	DetectedLanguage  string          `json:"detected_language,omitempty"`
	EmbeddingModel    string          `json:"embedding_model,omitempty"`
	RerankingModel    string          `json:"reranking_model,omitempty"`
	RerankDegraded    bool            `json:"rerank_degraded,omitempty"`
	EmbeddingTokens   int             `json:"embedding_tokens"`
	EmbeddingTimeMS   float64         `json:"embedding_time_ms"`
	SearchTimeMS      float64         `json:"search_time_ms"`
}

// Run executes the pipeline for one query. chatContext never reaches
// the embedding; it is echoed so callers can confirm it arrived.
func (p *RAGPipeline) Run(ctx context.Context, query string, accessLevel int, chatContext string) (*RAGReport, error) {
	start := time.Now()

	report := &RAGReport{
		Success:        true,
		Query:          query,
		AccessLevel:    accessLevel,
		Sources:        []search.Source{},
		HasChatContext: chatContext != "",
		EmbeddingModel: p.embedder.ModelName(),
		RerankingModel: p.reranker.ModelName(),
	}

	embedded, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	report.DetectedLanguage = embedded.Language
	report.EmbeddingTokens = embedded.Tokens
	report.EmbeddingTimeMS = embedded.TotalMS

	hits, err := p.vectors.Search(ctx, embedded.Vector, store.DefaultVectorTopK, accessLevel)
	if err != nil {
		return nil, err
	}
	report.TotalFound = len(hits)
	if len(hits) == 0 {
		p.logger.Info("rag query found no documents",
			slog.String("query", truncate(query, 80)),
			slog.Int("access_level", accessLevel))
		report.SearchTimeMS = elapsedMS(start)
		return report, nil
	}

	contents := make([]string, len(hits))
	for i, hit := range hits {
		contents[i] = hit.Content
	}
	resp, err := p.reranker.Rerank(ctx, query, contents, rerank.DefaultTopK)
	if err != nil {
		return nil, err
	}
	report.RerankedCount = len(resp.Results)
	report.RerankDegraded = resp.Degraded

	if len(resp.Results) == 0 {
		report.RelevanceFiltered = true
		report.Reason = "no results after reranking"
		report.SearchTimeMS = elapsedMS(start)
		return report, nil
	}

	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(hits) {
			continue
		}
		report.Sources = append(report.Sources, ragSource(hits[res.Index], res))
	}
	report.FilteredCount = len(report.Sources)
	report.BestScore = resp.Results[0].Score
	report.Context = search.AssembleContext(report.Sources)
	report.SearchTimeMS = elapsedMS(start)

	p.logger.Info("rag query answered",
		slog.String("query", truncate(query, 80)),
		slog.Int("access_level", accessLevel),
		slog.Int("candidates", len(hits)),
		slog.Int("sources", len(report.Sources)),
		slog.Float64("best_score", report.BestScore),
		slog.Float64("took_ms", report.SearchTimeMS))
	return report, nil
}

func ragSource(hit store.VectorHit, res rerank.Result) search.Source {
	src := search.Source{
		ChunkID:         hit.ID,
		DocumentTitle:   hit.Metadata.DocumentTitle(),
		SimilarityScore: hit.Similarity,
		RerankScore:     res.Score,
		RawLogit:        res.RawLogit,
		Text:            hit.Content,
	}
	if idx, ok := hit.Metadata.Int("chunk_index"); ok {
		src.ChunkIndex = idx
	}
	if lvl, ok := hit.Metadata.Int("access_level"); ok {
		src.AccessLevel = lvl
	}
	return src
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
