package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/embed"
	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/keywords"
	"github.com/docrank/docrank/internal/store"
)

type stubEmbedder struct {
	err   error
	calls int
	short bool
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, query string) (*embed.QueryEmbedding, error) {
	return nil, fmt.Errorf("not used")
}

func (e *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) (*embed.BatchEmbedding, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.short {
		n--
	}
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = []float32{0.1, 0.2}
	}
	return &embed.BatchEmbedding{Vectors: vectors, TotalTokens: 7 * len(texts)}, nil
}

func (e *stubEmbedder) Dimension() int                     { return 2 }
func (e *stubEmbedder) ModelName() string                  { return "multilingual-e5-large" }
func (e *stubEmbedder) Available(ctx context.Context) bool { return true }
func (e *stubEmbedder) Close() error                       { return nil }

type statusCall struct {
	status store.DocumentStatus
	count  int
}

type fakeDB struct {
	title      string
	titleOK    bool
	titleErr   error
	saveErr    error
	saved      []store.Chunk
	statuses   []statusCall
	docDeletes int
	trimCalls  []int
}

func (f *fakeDB) DocumentTitle(ctx context.Context, documentID string) (string, bool, error) {
	return f.title, f.titleOK, f.titleErr
}

func (f *fakeDB) SaveChunks(ctx context.Context, chunks []store.Chunk) (int, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved = chunks
	return len(chunks), nil
}

func (f *fakeDB) UpdateDocumentStatus(ctx context.Context, documentID string, status store.DocumentStatus, chunkCount int) error {
	f.statuses = append(f.statuses, statusCall{status: status, count: chunkCount})
	return nil
}

func (f *fakeDB) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	f.docDeletes++
	return len(f.saved), nil
}

func (f *fakeDB) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int, error) {
	f.trimCalls = append(f.trimCalls, fromIndex)
	return 0, nil
}

type fakeVectors struct {
	addErr     error
	added      []store.Chunk
	embeddings [][]float32
	docDeletes int
	deletedN   int
	trimCalls  []int
}

func (f *fakeVectors) AddChunks(ctx context.Context, chunks []store.Chunk, embeddings [][]float32) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = chunks
	f.embeddings = embeddings
	return nil
}

func (f *fakeVectors) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	f.docDeletes++
	return f.deletedN, nil
}

func (f *fakeVectors) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int, error) {
	f.trimCalls = append(f.trimCalls, fromIndex)
	return 0, nil
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate(ctx context.Context) {
	f.calls++
}

func newTestOrchestrator(db *fakeDB, vectors *fakeVectors, embedder *stubEmbedder, inv *fakeInvalidator) *Orchestrator {
	return NewOrchestrator(NewRegistry(), embedder, vectors, db,
		WithInvalidator(inv),
		WithKeywords(keywords.NewExtractor(nil)))
}

func TestProcessDocument_FullPipeline(t *testing.T) {
	db := &fakeDB{title: "Регламент отпусков", titleOK: true}
	vectors := &fakeVectors{}
	embedder := &stubEmbedder{}
	inv := &fakeInvalidator{}
	orch := newTestOrchestrator(db, vectors, embedder, inv)

	path := writeDocx(t, orderDocumentXML, orderCoreXML)
	report, err := orch.ProcessDocument(context.Background(), "doc-1", path, 40, "черновик.docx")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, "doc-1", report.DocumentID)
	assert.Equal(t, "Регламент отпусков", report.DocumentTitle)
	assert.Greater(t, report.ChunksCreated, 0)
	assert.Equal(t, report.ChunksCreated, report.ChunksSaved)
	assert.Equal(t, report.ChunksCreated, report.ChunkingStats.TotalChunks)
	assert.Equal(t, 1, report.TableCount)
	assert.Greater(t, report.TextLength, 0)
	assert.Equal(t, "multilingual-e5-large", report.EmbeddingModel)
	assert.Greater(t, report.EmbeddingTokens, 0)
	assert.NotEmpty(t, report.DocumentType)

	require.Len(t, vectors.added, report.ChunksCreated)
	require.Len(t, vectors.embeddings, report.ChunksCreated)
	assert.Len(t, db.saved, report.ChunksCreated)

	require.Equal(t, []statusCall{
		{status: store.StatusProcessing, count: -1},
		{status: store.StatusCompleted, count: report.ChunksCreated},
	}, db.statuses)

	assert.Equal(t, []int{report.ChunksCreated}, db.trimCalls)
	assert.Equal(t, []int{report.ChunksCreated}, vectors.trimCalls)
	assert.Equal(t, 1, inv.calls)
	assert.Zero(t, vectors.docDeletes)
}

func TestProcessDocument_ChunkMetadataBackfill(t *testing.T) {
	db := &fakeDB{title: "Регламент отпусков", titleOK: true}
	vectors := &fakeVectors{}
	orch := newTestOrchestrator(db, vectors, &stubEmbedder{}, &fakeInvalidator{})

	path := writeDocx(t, orderDocumentXML, "")
	report, err := orch.ProcessDocument(context.Background(), "doc-1", path, 40, "")
	require.NoError(t, err)

	for _, chunk := range vectors.added {
		meta := chunk.Metadata
		assert.Equal(t, "Регламент отпусков", meta.String("doc_title"))
		assert.Equal(t, "Регламент отпусков", meta.String("document_title"))
		assert.True(t, meta.Bool("has_tables"))
		if n, ok := meta.Int("content_parts_count"); assert.True(t, ok) {
			assert.Equal(t, 4, n)
		}
		_, hasAll := meta["all_keywords"]
		assert.True(t, hasAll)
		_, hasTech := meta["technical_keywords"]
		assert.True(t, hasTech)
		assert.Equal(t, "doc-1", meta.String("doc_id"))
		if lvl, ok := meta.Int("access_level"); assert.True(t, ok) {
			assert.Equal(t, 40, lvl)
		}
	}
	assert.Equal(t, report.ChunksCreated, len(vectors.added))
}

func TestProcessDocument_TitleFallsBackToProvided(t *testing.T) {
	db := &fakeDB{}
	orch := newTestOrchestrator(db, &fakeVectors{}, &stubEmbedder{}, &fakeInvalidator{})

	path := writeDocx(t, orderDocumentXML, "")
	report, err := orch.ProcessDocument(context.Background(), "doc-2", path, 10, "Инструкция дежурного")
	require.NoError(t, err)
	assert.Equal(t, "Инструкция дежурного", report.DocumentTitle)
}

func TestProcessDocument_TitleDefaultsToUnknown(t *testing.T) {
	db := &fakeDB{titleErr: errors.Transient("db down", nil)}
	orch := newTestOrchestrator(db, &fakeVectors{}, &stubEmbedder{}, &fakeInvalidator{})

	path := writeDocx(t, orderDocumentXML, "")
	report, err := orch.ProcessDocument(context.Background(), "doc-3", path, 10, "")
	require.NoError(t, err)
	assert.Equal(t, store.UnknownDocumentTitle, report.DocumentTitle)
}

func TestProcessDocument_UnsupportedExtensionFailsFast(t *testing.T) {
	db := &fakeDB{}
	vectors := &fakeVectors{}
	orch := newTestOrchestrator(db, vectors, &stubEmbedder{}, &fakeInvalidator{})

	_, err := orch.ProcessDocument(context.Background(), "doc-4", "/tmp/скан.pdf", 10, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Empty(t, db.statuses)
	assert.Zero(t, vectors.docDeletes)
}

func TestProcessDocument_MissingFileFailsFast(t *testing.T) {
	vectors := &fakeVectors{}
	orch := newTestOrchestrator(&fakeDB{}, vectors, &stubEmbedder{}, &fakeInvalidator{})

	_, err := orch.ProcessDocument(context.Background(), "doc-5", "/tmp/нет-такого.docx", 10, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Zero(t, vectors.docDeletes)
}

func TestProcessDocument_EmbedFailureCompensates(t *testing.T) {
	db := &fakeDB{}
	vectors := &fakeVectors{deletedN: 3}
	embedder := &stubEmbedder{err: errors.ModelUnavailable("embedding service down", nil)}
	inv := &fakeInvalidator{}
	orch := newTestOrchestrator(db, vectors, embedder, inv)

	path := writeDocx(t, orderDocumentXML, "")
	_, err := orch.ProcessDocument(context.Background(), "doc-6", path, 10, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindModelUnavailable, errors.KindOf(err))

	assert.Equal(t, 1, vectors.docDeletes)
	assert.Equal(t, 1, inv.calls)
	assert.Empty(t, vectors.added)
	assert.Empty(t, db.saved)
	require.Equal(t, []statusCall{{status: store.StatusProcessing, count: -1}}, db.statuses)
}

func TestProcessDocument_VectorWriteFailureCompensates(t *testing.T) {
	db := &fakeDB{}
	vectors := &fakeVectors{addErr: errors.Transient("vector store down", nil)}
	inv := &fakeInvalidator{}
	orch := newTestOrchestrator(db, vectors, &stubEmbedder{}, inv)

	path := writeDocx(t, orderDocumentXML, "")
	_, err := orch.ProcessDocument(context.Background(), "doc-7", path, 10, "")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))

	assert.Equal(t, 1, vectors.docDeletes)
	assert.Empty(t, db.saved)
	assert.Zero(t, inv.calls)
}

func TestProcessDocument_MisalignedEmbeddingsCompensate(t *testing.T) {
	vectors := &fakeVectors{}
	orch := newTestOrchestrator(&fakeDB{}, vectors, &stubEmbedder{short: true}, &fakeInvalidator{})

	path := writeDocx(t, orderDocumentXML, "")
	_, err := orch.ProcessDocument(context.Background(), "doc-8", path, 10, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindCorruption, errors.KindOf(err))
	assert.Equal(t, 1, vectors.docDeletes)
	assert.Empty(t, vectors.added)
}

func TestProcessDocument_CSVSkipsStructuredBookkeeping(t *testing.T) {
	vectors := &fakeVectors{}
	orch := newTestOrchestrator(&fakeDB{}, vectors, &stubEmbedder{}, &fakeInvalidator{})

	path := writeCSV(t, "Название,Цена\nШкаф,12000\nСтул,4500\n")
	report, err := orch.ProcessDocument(context.Background(), "doc-9", path, 10, "Прайс-лист")
	require.NoError(t, err)

	assert.Zero(t, report.TableCount)
	require.NotEmpty(t, vectors.added)
	for _, chunk := range vectors.added {
		_, hasTables := chunk.Metadata["has_tables"]
		assert.False(t, hasTables)
		_, hasParts := chunk.Metadata["content_parts_count"]
		assert.False(t, hasParts)
	}
}

func TestDeleteDocument(t *testing.T) {
	db := &fakeDB{saved: make([]store.Chunk, 2)}
	vectors := &fakeVectors{deletedN: 4}
	inv := &fakeInvalidator{}
	orch := newTestOrchestrator(db, vectors, &stubEmbedder{}, inv)

	report, err := orch.DeleteDocument(context.Background(), "doc-10")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 4, report.VectorDeleted)
	assert.Equal(t, 2, report.DurableDeleted)
	assert.Equal(t, 1, vectors.docDeletes)
	assert.Equal(t, 1, db.docDeletes)
	assert.Equal(t, 1, inv.calls)
}

func TestDeleteDocument_NothingToDelete(t *testing.T) {
	inv := &fakeInvalidator{}
	orch := newTestOrchestrator(&fakeDB{}, &fakeVectors{}, &stubEmbedder{}, inv)

	report, err := orch.DeleteDocument(context.Background(), "doc-11")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Zero(t, report.VectorDeleted)
	assert.Zero(t, report.DurableDeleted)
	assert.Zero(t, inv.calls)
}

func TestOrchestrator_SupportedExtensions(t *testing.T) {
	orch := newTestOrchestrator(&fakeDB{}, &fakeVectors{}, &stubEmbedder{}, &fakeInvalidator{})
	assert.Equal(t, []string{".csv", ".docx", ".json"}, orch.SupportedExtensions())
}
