package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docrank/docrank/internal/analyze"
	"github.com/docrank/docrank/internal/chunk"
	"github.com/docrank/docrank/internal/embed"
	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/keywords"
	"github.com/docrank/docrank/internal/store"
)

// cleanupTimeout bounds the compensating delete that runs after a failed
// pipeline, detached from the possibly cancelled task context.
const cleanupTimeout = 30 * time.Second

// DocumentStore is the durable side of ingestion.
type DocumentStore interface {
	DocumentTitle(ctx context.Context, documentID string) (string, bool, error)
	SaveChunks(ctx context.Context, chunks []store.Chunk) (int, error)
	UpdateDocumentStatus(ctx context.Context, documentID string, status store.DocumentStatus, chunkCount int) error
	DeleteDocumentChunks(ctx context.Context, documentID string) (int, error)
	DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int, error)
}

// VectorSink is the retrieval side of ingestion.
type VectorSink interface {
	AddChunks(ctx context.Context, chunks []store.Chunk, embeddings [][]float32) error
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int, error)
}

// Invalidator drops retrieval caches after the corpus changes.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

var (
	_ DocumentStore = (*store.DB)(nil)
	_ VectorSink    = (*store.VectorStore)(nil)
)

// StageTimings records per-stage wall time in milliseconds.
type StageTimings struct {
	ParseMS    float64 `json:"parse_ms"`
	AnalyzeMS  float64 `json:"analyze_ms"`
	ChunkMS    float64 `json:"chunk_ms"`
	KeywordsMS float64 `json:"keywords_ms"`
	EmbedMS    float64 `json:"embed_ms"`
	PersistMS  float64 `json:"persist_ms"`
	TotalMS    float64 `json:"total_ms"`
}

// Report is the outcome of one document ingest.
type Report struct {
	Success         bool                      `json:"success"`
	DocumentID      string                    `json:"document_id"`
	DocumentTitle   string                    `json:"document_title"`
	DocumentType    string                    `json:"document_type"`
	TextLength      int                       `json:"text_length"`
	SectionCount    int                       `json:"section_count"`
	TableCount      int                       `json:"table_count"`
	ChunksCreated   int                       `json:"chunks_created"`
	ChunksSaved     int                       `json:"chunks_saved"`
	ChunkingStats   chunk.Stats               `json:"chunking_stats"`
	Keywords        keywords.DocumentKeywords `json:"document_keywords"`
	EmbeddingModel  string                    `json:"embedding_model"`
	EmbeddingTokens int                       `json:"embedding_tokens"`
	Timings         StageTimings              `json:"timings"`
}

// DeleteReport is the outcome of removing a document's chunks.
type DeleteReport struct {
	Success        bool   `json:"success"`
	DocumentID     string `json:"document_id"`
	VectorDeleted  int    `json:"chunks_deleted"`
	DurableDeleted int    `json:"postgres_deleted"`
}

// Orchestrator runs the document pipeline: parse, analyze, chunk, extract
// keywords, embed, persist to both sinks, then invalidate retrieval caches.
type Orchestrator struct {
	parsers  *Registry
	analyzer *analyze.Analyzer
	chunker  *chunk.Chunker
	keywords *keywords.Extractor
	embedder embed.Embedder
	vectors  VectorSink
	db       DocumentStore
	caches   Invalidator
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithAnalyzer replaces the default document analyzer.
func WithAnalyzer(a *analyze.Analyzer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.analyzer = a
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c *chunk.Chunker) OrchestratorOption {
	return func(o *Orchestrator) {
		o.chunker = c
	}
}

// WithKeywords replaces the default keyword extractor.
func WithKeywords(e *keywords.Extractor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.keywords = e
	}
}

// WithInvalidator sets the cache invalidator notified after corpus writes.
func WithInvalidator(inv Invalidator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.caches = inv
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator wires the pipeline. The analyzer, chunker and keyword
// extractor default to standard instances; the invalidator is optional.
func NewOrchestrator(parsers *Registry, embedder embed.Embedder, vectors VectorSink, db DocumentStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		parsers:  parsers,
		embedder: embedder,
		vectors:  vectors,
		db:       db,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.analyzer == nil {
		o.analyzer = analyze.NewAnalyzer(analyze.WithLogger(o.logger))
	}
	if o.chunker == nil {
		o.chunker = chunk.NewChunker(o.analyzer, chunk.WithLogger(o.logger))
	}
	if o.keywords == nil {
		o.keywords = keywords.NewExtractor(embedder, keywords.WithLogger(o.logger))
	}
	return o
}

// SupportedExtensions lists the file extensions the pipeline accepts.
func (o *Orchestrator) SupportedExtensions() []string {
	return o.parsers.Extensions()
}

// ProcessDocument runs the full pipeline for one uploaded file. Chunk ids
// are stable and every write is an upsert, so reprocessing a document
// replaces its chunk set in place; the stale tail of a shrunk document is
// trimmed from both sinks. On failure the vector store is swept clean of
// the document's chunks so no orphaned embeddings survive a partial run.
// Retries and the terminal error status belong to the caller.
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID, path string, accessLevel int, title string) (*Report, error) {
	start := time.Now()
	logger := o.logger.With(slog.String("document_id", documentID))

	parser, err := o.parsers.ForFile(path)
	if err != nil {
		return nil, err
	}
	if err := CheckFile(path); err != nil {
		return nil, err
	}

	if uerr := o.db.UpdateDocumentStatus(ctx, documentID, store.StatusProcessing, -1); uerr != nil {
		logger.Warn("could not mark document processing", slog.String("error", uerr.Error()))
	}

	var timings StageTimings
	stage := time.Now()
	parsed, err := parser.Parse(path)
	if err != nil {
		return nil, o.failed(ctx, logger, documentID, "parse", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return nil, o.failed(ctx, logger, documentID, "parse",
			errors.Fatal("no text extracted from document", nil))
	}
	timings.ParseMS = elapsedMS(stage)

	stage = time.Now()
	docMeta, sections := o.analyzer.Analyze(parsed.Text)
	timings.AnalyzeMS = elapsedMS(stage)

	canonical := o.canonicalTitle(ctx, documentID, title)
	if docMeta.Title == "" {
		docMeta.Title = canonical
	}

	stage = time.Now()
	chunks := o.chunker.Chunk(chunk.Document{
		ID:          documentID,
		Text:        parsed.Text,
		AccessLevel: accessLevel,
		Sections:    sections,
		Metadata:    docMeta,
		Tables:      parsed.Tables,
	})
	if len(chunks) == 0 {
		return nil, o.failed(ctx, logger, documentID, "chunk",
			errors.Fatal("document produced no chunks", nil))
	}
	for i := range chunks {
		meta := chunks[i].Metadata
		meta["doc_title"] = canonical
		meta["document_title"] = canonical
		if parsed.Structured {
			meta["has_tables"] = len(parsed.Tables) > 0
			meta["content_parts_count"] = parsed.PartCount
		}
	}
	timings.ChunkMS = elapsedMS(stage)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	stage = time.Now()
	perChunk := o.keywords.ExtractBatch(ctx, texts)
	for i := range chunks {
		chunks[i].Metadata["semantic_keywords"] = perChunk[i].Semantic
		chunks[i].Metadata["technical_keywords"] = perChunk[i].Technical
		chunks[i].Metadata["all_keywords"] = perChunk[i].All
	}
	docKeywords := keywords.DocumentSummary(perChunk)
	timings.KeywordsMS = elapsedMS(stage)

	stage = time.Now()
	batch, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, o.failed(ctx, logger, documentID, "embed", err)
	}
	if len(batch.Vectors) != len(chunks) {
		return nil, o.failed(ctx, logger, documentID, "embed",
			errors.Corruption("embedding batch misaligned with chunks", nil))
	}
	timings.EmbedMS = elapsedMS(stage)

	stage = time.Now()
	if err := o.vectors.AddChunks(ctx, chunks, batch.Vectors); err != nil {
		return nil, o.failed(ctx, logger, documentID, "persist", err)
	}
	saved, err := o.db.SaveChunks(ctx, chunks)
	if err != nil {
		return nil, o.failed(ctx, logger, documentID, "persist", err)
	}
	if _, derr := o.db.DeleteChunksFrom(ctx, documentID, len(chunks)); derr != nil {
		logger.Warn("could not trim stale chunk rows", slog.String("error", derr.Error()))
	}
	if _, derr := o.vectors.DeleteChunksFrom(ctx, documentID, len(chunks)); derr != nil {
		logger.Warn("could not trim stale vector chunks", slog.String("error", derr.Error()))
	}
	if uerr := o.db.UpdateDocumentStatus(ctx, documentID, store.StatusCompleted, len(chunks)); uerr != nil {
		logger.Warn("could not mark document completed", slog.String("error", uerr.Error()))
	}
	timings.PersistMS = elapsedMS(stage)

	o.invalidate(ctx)
	timings.TotalMS = elapsedMS(start)

	docType := string(docMeta.Type)
	if docType == "" {
		docType = string(analyze.TypeGeneral)
	}
	report := &Report{
		Success:         true,
		DocumentID:      documentID,
		DocumentTitle:   canonical,
		DocumentType:    docType,
		TextLength:      utf8.RuneCountInString(parsed.Text),
		SectionCount:    len(sections),
		TableCount:      len(parsed.Tables),
		ChunksCreated:   len(chunks),
		ChunksSaved:     saved,
		ChunkingStats:   chunk.Summarize(chunks),
		Keywords:        docKeywords,
		EmbeddingModel:  o.embedder.ModelName(),
		EmbeddingTokens: batch.TotalTokens,
		Timings:         timings,
	}
	logger.Info("document processed",
		slog.String("document_type", docType),
		slog.Int("chunks", len(chunks)),
		slog.Float64("total_ms", timings.TotalMS))
	return report, nil
}

// DeleteDocument removes a document's chunks from both sinks and drops the
// retrieval caches. Both deletes run even if one fails.
func (o *Orchestrator) DeleteDocument(ctx context.Context, documentID string) (*DeleteReport, error) {
	vecDeleted, verr := o.vectors.DeleteDocument(ctx, documentID)
	dbDeleted, derr := o.db.DeleteDocumentChunks(ctx, documentID)
	if vecDeleted > 0 || dbDeleted > 0 {
		o.invalidate(ctx)
	}
	if verr != nil {
		return nil, verr
	}
	if derr != nil {
		return nil, derr
	}

	o.logger.Info("document deleted",
		slog.String("document_id", documentID),
		slog.Int("vector_chunks", vecDeleted),
		slog.Int("durable_chunks", dbDeleted))
	return &DeleteReport{
		Success:        true,
		DocumentID:     documentID,
		VectorDeleted:  vecDeleted,
		DurableDeleted: dbDeleted,
	}, nil
}

// canonicalTitle prefers the registered title from the document record,
// then the caller-provided one.
func (o *Orchestrator) canonicalTitle(ctx context.Context, documentID, provided string) string {
	if title, ok, err := o.db.DocumentTitle(ctx, documentID); err != nil {
		o.logger.Warn("document title lookup failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	} else if ok && strings.TrimSpace(title) != "" {
		return title
	}
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return store.UnknownDocumentTitle
}

// failed sweeps the partially written document out of the vector store and
// returns err unchanged.
func (o *Orchestrator) failed(ctx context.Context, logger *slog.Logger, documentID, stage string, err error) error {
	logger.Error("document processing failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()))

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if n, derr := o.vectors.DeleteDocument(cleanupCtx, documentID); derr != nil {
		logger.Warn("compensating vector cleanup failed", slog.String("error", derr.Error()))
	} else if n > 0 {
		logger.Info("compensating cleanup removed chunks", slog.Int("count", n))
		o.invalidate(cleanupCtx)
	}
	return err
}

func (o *Orchestrator) invalidate(ctx context.Context) {
	if o.caches != nil {
		o.caches.Invalidate(ctx)
	}
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
