package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/search"
)

func awaitResult(t *testing.T, w *Worker, taskID string) *Result {
	t.Helper()
	var got *Result
	require.Eventually(t, func() bool {
		result, ok, err := w.Results().Load(context.Background(), taskID)
		if err != nil || !ok {
			return false
		}
		got = result
		return true
	}, 3*time.Second, 20*time.Millisecond)
	return got
}

func TestWorkerRoundTrip(t *testing.T) {
	client := newTestClient(t)
	searcher := &fakeSearcher{}
	handlers := newTestHandlers(&fakeIngestor{}, searcher, nil, nil)
	w := NewWorker(client, handlers,
		WithConcurrency(2),
		WithPopTimeout(time.Second),
		WithResultTTL(time.Minute))
	producer := NewProducer(client)

	id, err := producer.EnqueueHybridSearch(context.Background(), QueryArgs{Query: "регламент закупок", AccessLevel: 20})
	require.NoError(t, err)

	w.Start(context.Background())
	result := awaitResult(t, w, id)
	w.Stop()

	assert.True(t, result.Success)
	assert.Equal(t, id, result.TaskID)
	assert.Equal(t, TaskHybridSearch, result.Task)
	assert.Empty(t, result.Error)
	assert.False(t, result.EnqueuedAt.IsZero())
	assert.False(t, result.CompletedAt.IsZero())

	var report search.Report
	require.NoError(t, json.Unmarshal(result.Payload, &report))
	assert.Equal(t, "регламент закупок", report.Query)
	assert.Equal(t, 20, report.AccessLevel)

	assert.Equal(t, 1, searcher.calls)
	assert.False(t, w.IsRunning())

	ttl := client.TTL(context.Background(), ResultKey(id)).Val()
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestWorkerPublishesFailureEnvelope(t *testing.T) {
	client := newTestClient(t)
	ing := &fakeIngestor{}
	handlers := newTestHandlers(ing, &fakeSearcher{}, nil, nil)
	w := NewWorker(client, handlers, WithConcurrency(1), WithPopTimeout(time.Second))
	producer := NewProducer(client)

	id, err := producer.EnqueueProcessDocument(context.Background(), ProcessDocumentArgs{
		DocumentID: "doc-1", FilePath: "/data/a.docx", AccessLevel: 500,
	})
	require.NoError(t, err)

	w.Start(context.Background())
	result := awaitResult(t, w, id)
	w.Stop()

	assert.False(t, result.Success)
	assert.Equal(t, "validation", result.ErrorKind)
	assert.Contains(t, result.Error, "access_level")
	assert.Empty(t, result.Payload)
	assert.Zero(t, ing.calls)
}

func TestWorkerDropsCorruptEnvelope(t *testing.T) {
	client := newTestClient(t)
	handlers := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, nil)
	w := NewWorker(client, handlers, WithConcurrency(1), WithPopTimeout(time.Second))
	producer := NewProducer(client)

	require.NoError(t, client.LPush(context.Background(), QueryQueue, "{not a task").Err())
	id, err := producer.EnqueueHybridSearch(context.Background(), QueryArgs{Query: "вопрос", AccessLevel: 10})
	require.NoError(t, err)

	w.Start(context.Background())
	result := awaitResult(t, w, id)
	w.Stop()

	assert.True(t, result.Success)
}

func TestWorkerServesBothQueues(t *testing.T) {
	client := newTestClient(t)
	handlers := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, nil)
	w := NewWorker(client, handlers, WithConcurrency(2), WithPopTimeout(time.Second))
	producer := NewProducer(client)

	ingestID, err := producer.EnqueueProcessDocument(context.Background(), ProcessDocumentArgs{
		DocumentID: "doc-1", FilePath: "/data/a.docx", AccessLevel: 10,
	})
	require.NoError(t, err)
	queryID, err := producer.EnqueueRAGQuery(context.Background(), QueryArgs{Query: "вопрос", AccessLevel: 10})
	require.NoError(t, err)

	w.Start(context.Background())
	ingestResult := awaitResult(t, w, ingestID)
	queryResult := awaitResult(t, w, queryID)
	w.Stop()

	assert.True(t, ingestResult.Success)
	assert.Equal(t, TaskProcessDocument, ingestResult.Task)
	assert.True(t, queryResult.Success)
	assert.Equal(t, TaskRAGQuery, queryResult.Task)
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	client := newTestClient(t)
	handlers := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, nil)
	w := NewWorker(client, handlers, WithConcurrency(1), WithPopTimeout(time.Second))

	w.Start(context.Background())
	w.Start(context.Background())
	assert.True(t, w.IsRunning())

	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())
}

func TestWorkerStopsWhenContextCancelled(t *testing.T) {
	client := newTestClient(t)
	handlers := newTestHandlers(&fakeIngestor{}, &fakeSearcher{}, nil, nil)
	w := NewWorker(client, handlers, WithConcurrency(2), WithPopTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
	assert.False(t, w.IsRunning())
}
