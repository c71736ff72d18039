package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/ingest"
	"github.com/docrank/docrank/internal/search"
	"github.com/docrank/docrank/internal/store"
)

type fakeIngestor struct {
	err       error
	failUntil int
	calls     int
	deletes   int
	lastDoc   string
	lastPath  string
	lastLevel int
	lastTitle string
}

func (f *fakeIngestor) ProcessDocument(ctx context.Context, documentID, path string, accessLevel int, title string) (*ingest.Report, error) {
	f.calls++
	f.lastDoc, f.lastPath, f.lastLevel, f.lastTitle = documentID, path, accessLevel, title
	if f.err != nil && (f.failUntil == 0 || f.calls <= f.failUntil) {
		return nil, f.err
	}
	return &ingest.Report{Success: true, DocumentID: documentID, ChunksSaved: 2}, nil
}

func (f *fakeIngestor) DeleteDocument(ctx context.Context, documentID string) (*ingest.DeleteReport, error) {
	f.deletes++
	f.lastDoc = documentID
	if f.err != nil && (f.failUntil == 0 || f.deletes <= f.failUntil) {
		return nil, f.err
	}
	return &ingest.DeleteReport{Success: true, DocumentID: documentID, VectorDeleted: 2, DurableDeleted: 2}, nil
}

type fakeSearcher struct {
	err        error
	failUntil  int
	calls      int
	batchCalls int
	lastQuery  string
	lastLevel  int
	lastParams search.Params
}

func (f *fakeSearcher) Search(ctx context.Context, query string, accessLevel int) (*search.Report, error) {
	f.calls++
	f.lastQuery, f.lastLevel = query, accessLevel
	if f.err != nil && (f.failUntil == 0 || f.calls <= f.failUntil) {
		return nil, f.err
	}
	return &search.Report{Success: true, Query: query, AccessLevel: accessLevel, SearchMethod: "hybrid", Sources: []search.Source{}}, nil
}

func (f *fakeSearcher) BatchSearch(ctx context.Context, queries []string, accessLevel int, params search.Params) (*search.BatchReport, error) {
	f.batchCalls++
	f.lastLevel = accessLevel
	f.lastParams = params
	if f.err != nil && (f.failUntil == 0 || f.batchCalls <= f.failUntil) {
		return nil, f.err
	}
	return &search.BatchReport{Success: true, BatchSize: len(queries), ProcessedQueries: len(queries)}, nil
}

func (f *fakeSearcher) Params() search.Params { return search.DefaultParams() }

type statusCall struct {
	doc    string
	status store.DocumentStatus
	count  int
}

type fakeStatuses struct {
	calls []statusCall
	err   error
}

func (f *fakeStatuses) UpdateDocumentStatus(ctx context.Context, documentID string, status store.DocumentStatus, chunkCount int) error {
	f.calls = append(f.calls, statusCall{documentID, status, chunkCount})
	return f.err
}

type fakeDiag struct {
	healthCalls int
	statsCalls  int
}

func (f *fakeDiag) Health(ctx context.Context) any {
	f.healthCalls++
	return map[string]any{"status": "healthy"}
}

func (f *fakeDiag) ProcessingStats(ctx context.Context) any {
	f.statsCalls++
	return map[string]any{"documents_total": 3}
}

// fastRetry keeps the policy shape but collapses the delays so retry
// tests finish in milliseconds.
func fastRetry(maxRetries int) errors.RetryConfig {
	return errors.RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestHandlers(ing *fakeIngestor, searcher *fakeSearcher, statuses *fakeStatuses, diag *fakeDiag) *Handlers {
	var ingestor Ingestor
	if ing != nil {
		ingestor = ing
	}
	var ss StatusStore
	if statuses != nil {
		ss = statuses
	}
	var dg Diagnostics
	if diag != nil {
		dg = diag
	}
	rag := NewRAGPipeline(&stubEmbedder{vec: []float32{1, 0, 0}}, &stubVectors{}, &stubReranker{})
	return NewHandlers(ingestor, searcher, rag, ss, dg,
		WithIngestRetry(fastRetry(2)),
		WithQueryRetry(fastRetry(1)))
}

func taskFor(t *testing.T, name string, args any) Task {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return Task{ID: uuid.NewString(), Name: name, Args: raw, EnqueuedAt: time.Now().UTC()}
}

func rawTask(name, args string) Task {
	return Task{ID: "task-1", Name: name, Args: json.RawMessage(args), EnqueuedAt: time.Now().UTC()}
}

func TestHandleProcessDocument(t *testing.T) {
	ing := &fakeIngestor{}
	statuses := &fakeStatuses{}
	h := newTestHandlers(ing, &fakeSearcher{}, statuses, nil)

	task := taskFor(t, TaskProcessDocument, ProcessDocumentArgs{
		DocumentID:    "doc-1",
		FilePath:      "/data/prikaz.docx",
		AccessLevel:   40,
		DocumentTitle: "Приказ №12",
	})
	payload, err := h.Handle(context.Background(), task)
	require.NoError(t, err)

	report, ok := payload.(*ingest.Report)
	require.True(t, ok)
	assert.True(t, report.Success)
	assert.Equal(t, "doc-1", report.DocumentID)

	assert.Equal(t, 1, ing.calls)
	assert.Equal(t, "/data/prikaz.docx", ing.lastPath)
	assert.Equal(t, 40, ing.lastLevel)
	assert.Equal(t, "Приказ №12", ing.lastTitle)
	assert.Empty(t, statuses.calls)
}

func TestHandleProcessDocumentRetriesTransient(t *testing.T) {
	ing := &fakeIngestor{err: errors.Transient("chroma write failed", nil), failUntil: 2}
	statuses := &fakeStatuses{}
	h := newTestHandlers(ing, &fakeSearcher{}, statuses, nil)

	task := taskFor(t, TaskProcessDocument, ProcessDocumentArgs{
		DocumentID: "doc-1", FilePath: "/data/prikaz.docx", AccessLevel: 40,
	})
	_, err := h.Handle(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, 3, ing.calls)
	assert.Empty(t, statuses.calls)
}

func TestHandleProcessDocumentExhaustedRetriesRecordError(t *testing.T) {
	ing := &fakeIngestor{err: errors.Transient("chroma write failed", nil)}
	statuses := &fakeStatuses{}
	h := newTestHandlers(ing, &fakeSearcher{}, statuses, nil)

	task := taskFor(t, TaskProcessDocument, ProcessDocumentArgs{
		DocumentID: "doc-1", FilePath: "/data/prikaz.docx", AccessLevel: 40,
	})
	_, err := h.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, errors.KindTransient, errors.KindOf(err))

	assert.Equal(t, 3, ing.calls)
	require.Len(t, statuses.calls, 1)
	assert.Equal(t, statusCall{"doc-1", store.StatusError, -1}, statuses.calls[0])
}

func TestHandleProcessDocumentFatalNotRetried(t *testing.T) {
	ing := &fakeIngestor{err: errors.Fatal("no text extracted from document", nil)}
	statuses := &fakeStatuses{}
	h := newTestHandlers(ing, &fakeSearcher{}, statuses, nil)

	task := taskFor(t, TaskProcessDocument, ProcessDocumentArgs{
		DocumentID: "doc-1", FilePath: "/data/empty.docx", AccessLevel: 40,
	})
	_, err := h.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))

	assert.Equal(t, 1, ing.calls)
	require.Len(t, statuses.calls, 1)
	assert.Equal(t, store.StatusError, statuses.calls[0].status)
}

func TestHandleProcessDocumentRejectsBadArguments(t *testing.T) {
	cases := []struct {
		name string
		task Task
	}{
		{"missing access level", rawTask(TaskProcessDocument, `{"document_id":"d","file_path":"/f.docx"}`)},
		{"access level zero", rawTask(TaskProcessDocument, `{"document_id":"d","file_path":"/f.docx","access_level":0}`)},
		{"access level above range", rawTask(TaskProcessDocument, `{"document_id":"d","file_path":"/f.docx","access_level":101}`)},
		{"access level negative", rawTask(TaskProcessDocument, `{"document_id":"d","file_path":"/f.docx","access_level":-5}`)},
		{"access level fractional", rawTask(TaskProcessDocument, `{"document_id":"d","file_path":"/f.docx","access_level":2.5}`)},
		{"access level string", rawTask(TaskProcessDocument, `{"document_id":"d","file_path":"/f.docx","access_level":"10"}`)},
		{"missing document id", rawTask(TaskProcessDocument, `{"file_path":"/f.docx","access_level":10}`)},
		{"missing file path", rawTask(TaskProcessDocument, `{"document_id":"d","access_level":10}`)},
		{"no arguments", Task{ID: "task-1", Name: TaskProcessDocument}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ing := &fakeIngestor{}
			statuses := &fakeStatuses{}
			h := newTestHandlers(ing, &fakeSearcher{}, statuses, nil)

			_, err := h.Handle(context.Background(), tc.task)
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))
			assert.Zero(t, ing.calls)
			assert.Empty(t, statuses.calls)
		})
	}
}

func TestHandleRAGQuery(t *testing.T) {
	h := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, nil)

	task := taskFor(t, TaskRAGQuery, QueryArgs{Query: "порядок отпусков", AccessLevel: 10, ChatContext: "диалог"})
	payload, err := h.Handle(context.Background(), task)
	require.NoError(t, err)

	report, ok := payload.(*RAGReport)
	require.True(t, ok)
	assert.True(t, report.Success)
	assert.Equal(t, "порядок отпусков", report.Query)
	assert.True(t, report.HasChatContext)
}

func TestHandleQueryTasksRejectBadArguments(t *testing.T) {
	for _, name := range []string{TaskRAGQuery, TaskHybridSearch} {
		t.Run(name, func(t *testing.T) {
			searcher := &fakeSearcher{}
			h := newTestHandlers(&fakeIngestor{}, searcher, nil, nil)

			_, err := h.Handle(context.Background(), rawTask(name, `{"query":"   ","access_level":10}`))
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))

			_, err = h.Handle(context.Background(), rawTask(name, `{"query":"вопрос","access_level":200}`))
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))
			assert.Zero(t, searcher.calls)
		})
	}
}

func TestHandleHybridSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	h := newTestHandlers(&fakeIngestor{}, searcher, nil, nil)

	task := taskFor(t, TaskHybridSearch, QueryArgs{Query: "сроки согласования", AccessLevel: 25})
	payload, err := h.Handle(context.Background(), task)
	require.NoError(t, err)

	report, ok := payload.(*search.Report)
	require.True(t, ok)
	assert.Equal(t, "сроки согласования", report.Query)
	assert.Equal(t, "сроки согласования", searcher.lastQuery)
	assert.Equal(t, 25, searcher.lastLevel)
}

func TestHandleHybridSearchRetriesTransientOnly(t *testing.T) {
	searcher := &fakeSearcher{err: errors.ResourceExhausted("pool borrow timed out", nil), failUntil: 1}
	h := newTestHandlers(&fakeIngestor{}, searcher, nil, nil)

	task := taskFor(t, TaskHybridSearch, QueryArgs{Query: "вопрос", AccessLevel: 10})
	_, err := h.Handle(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 2, searcher.calls)

	failing := &fakeSearcher{err: errors.Validation("bad query")}
	h = newTestHandlers(&fakeIngestor{}, failing, nil, nil)
	_, err = h.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
}

func TestHandleBatchHybridSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	h := newTestHandlers(&fakeIngestor{}, searcher, nil, nil)

	task := taskFor(t, TaskBatchHybridSearch, BatchSearchArgs{
		Queries: []string{"первый", "второй"}, AccessLevel: 10,
	})
	payload, err := h.Handle(context.Background(), task)
	require.NoError(t, err)

	report, ok := payload.(*search.BatchReport)
	require.True(t, ok)
	assert.Equal(t, 2, report.BatchSize)
	assert.Equal(t, search.DefaultParams(), searcher.lastParams)

	_, err = h.Handle(context.Background(), rawTask(TaskBatchHybridSearch, `{"queries":[],"access_level":10}`))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestHandleDeleteDocumentRunsOnce(t *testing.T) {
	ing := &fakeIngestor{}
	h := newTestHandlers(ing, &fakeSearcher{}, nil, nil)

	task := taskFor(t, TaskDeleteDocument, DeleteDocumentArgs{DocumentID: "doc-9"})
	payload, err := h.Handle(context.Background(), task)
	require.NoError(t, err)

	report, ok := payload.(*ingest.DeleteReport)
	require.True(t, ok)
	assert.Equal(t, "doc-9", report.DocumentID)
	assert.Equal(t, 1, ing.deletes)

	failing := &fakeIngestor{err: errors.Transient("chroma unreachable", nil)}
	h = newTestHandlers(failing, &fakeSearcher{}, nil, nil)
	_, err = h.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, 1, failing.deletes)
}

func TestHandleDiagnosticsTasks(t *testing.T) {
	diag := &fakeDiag{}
	h := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, diag)

	payload, err := h.Handle(context.Background(), Task{ID: "t", Name: TaskHealthCheck})
	require.NoError(t, err)
	health, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 1, diag.healthCalls)

	payload, err = h.Handle(context.Background(), Task{ID: "t", Name: TaskProcessingStats})
	require.NoError(t, err)
	stats, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, stats["documents_total"])
	assert.Equal(t, 1, diag.statsCalls)
}

func TestHandleDiagnosticsUnconfigured(t *testing.T) {
	h := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, nil)

	_, err := h.Handle(context.Background(), Task{ID: "t", Name: TaskHealthCheck})
	require.Error(t, err)
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))
}

func TestHandleDocumentTasksWithoutIngestor(t *testing.T) {
	h := newTestHandlers(nil, &fakeSearcher{}, nil, nil)

	_, err := h.Handle(context.Background(), taskFor(t, TaskProcessDocument, ProcessDocumentArgs{
		DocumentID: "doc-1", FilePath: "/tmp/doc.docx", AccessLevel: 10,
	}))
	require.Error(t, err)
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))

	_, err = h.Handle(context.Background(), taskFor(t, TaskDeleteDocument, DeleteDocumentArgs{DocumentID: "doc-1"}))
	require.Error(t, err)
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))
}

func TestHandleUnknownTask(t *testing.T) {
	h := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, nil)

	_, err := h.Handle(context.Background(), Task{ID: "t", Name: "reindex_everything"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
