// Package worker runs the Redis-list task queues. Producers push JSON
// task envelopes, consumer goroutines pop them with BRPOP, dispatch to
// the matching handler, and publish a result envelope under the task's
// id with a TTL so callers can poll for completion.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/docrank/docrank/internal/errors"
)

const (
	// IngestQueue carries document processing and deletion tasks.
	IngestQueue = "docrank:queue:document_processing"

	// QueryQueue carries retrieval and diagnostics tasks.
	QueryQueue = "docrank:queue:queries"

	// resultKeyPrefix namespaces per-task result keys.
	resultKeyPrefix = "docrank:result:"

	// DefaultResultTTL bounds how long a task result stays readable.
	DefaultResultTTL = time.Hour
)

// Task names understood by the worker.
const (
	TaskProcessDocument   = "process_document"
	TaskRAGQuery          = "rag_query"
	TaskHybridSearch      = "hybrid_search"
	TaskBatchHybridSearch = "batch_hybrid_search"
	TaskDeleteDocument    = "delete_document"
	TaskHealthCheck       = "health_check"
	TaskProcessingStats   = "get_processing_stats"
)

// Task is the wire envelope carried on the queues.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"task"`
	Args       json.RawMessage `json:"args,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Result is the completed-task envelope published under the task's
// result key. Error carries the message and ErrorKind the taxonomy
// class, so producers can distinguish a validation failure from an
// exhausted retry.
type Result struct {
	TaskID      string          `json:"task_id"`
	Task        string          `json:"task"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Payload     json.RawMessage `json:"result,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMS  float64         `json:"duration_ms"`
}

// ResultKey returns the Redis key holding the result for a task id.
func ResultKey(taskID string) string {
	return resultKeyPrefix + taskID
}

// Producer enqueues tasks and hands back the id used to poll for the
// result.
type Producer struct {
	client      *redis.Client
	ingestQueue string
	queryQueue  string
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithProducerQueues overrides the queue names pushed to.
func WithProducerQueues(ingestQueue, queryQueue string) ProducerOption {
	return func(p *Producer) {
		if ingestQueue != "" {
			p.ingestQueue = ingestQueue
		}
		if queryQueue != "" {
			p.queryQueue = queryQueue
		}
	}
}

// NewProducer creates a Producer on top of an existing Redis client.
func NewProducer(client *redis.Client, opts ...ProducerOption) *Producer {
	p := &Producer{
		client:      client,
		ingestQueue: IngestQueue,
		queryQueue:  QueryQueue,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue pushes one task with freshly minted id and returns the id.
func (p *Producer) Enqueue(ctx context.Context, name string, args any) (string, error) {
	var raw json.RawMessage
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			return "", errors.Fatal("encode task args", err)
		}
		raw = encoded
	}

	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", errors.Fatal("encode task envelope", err)
	}

	if err := p.client.LPush(ctx, p.queueFor(name), payload).Err(); err != nil {
		return "", errors.Transient("enqueue task", err)
	}
	return task.ID, nil
}

// EnqueueProcessDocument schedules a document for ingestion.
func (p *Producer) EnqueueProcessDocument(ctx context.Context, args ProcessDocumentArgs) (string, error) {
	return p.Enqueue(ctx, TaskProcessDocument, args)
}

// EnqueueRAGQuery schedules a retrieval-augmented query.
func (p *Producer) EnqueueRAGQuery(ctx context.Context, args QueryArgs) (string, error) {
	return p.Enqueue(ctx, TaskRAGQuery, args)
}

// EnqueueHybridSearch schedules a hybrid search.
func (p *Producer) EnqueueHybridSearch(ctx context.Context, args QueryArgs) (string, error) {
	return p.Enqueue(ctx, TaskHybridSearch, args)
}

// EnqueueBatchSearch schedules a multi-query hybrid search.
func (p *Producer) EnqueueBatchSearch(ctx context.Context, args BatchSearchArgs) (string, error) {
	return p.Enqueue(ctx, TaskBatchHybridSearch, args)
}

// EnqueueDeleteDocument schedules removal of a document's chunks.
func (p *Producer) EnqueueDeleteDocument(ctx context.Context, documentID string) (string, error) {
	return p.Enqueue(ctx, TaskDeleteDocument, DeleteDocumentArgs{DocumentID: documentID})
}

// Document lifecycle tasks ride the ingest queue, everything else the
// query queue.
func (p *Producer) queueFor(name string) string {
	switch name {
	case TaskProcessDocument, TaskDeleteDocument:
		return p.ingestQueue
	default:
		return p.queryQueue
	}
}

// Results stores and retrieves completed task envelopes.
type Results struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResults creates a result store. A non-positive ttl falls back to
// DefaultResultTTL.
func NewResults(client *redis.Client, ttl time.Duration) *Results {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Results{client: client, ttl: ttl}
}

// Save publishes a result under its task key.
func (r *Results) Save(ctx context.Context, result Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return errors.Fatal("encode task result", err)
	}
	if err := r.client.Set(ctx, ResultKey(result.TaskID), raw, r.ttl).Err(); err != nil {
		return errors.Transient("store task result", err)
	}
	return nil
}

// Load reads the result for a task id. Returns false when the task has
// not finished yet or the result expired.
func (r *Results) Load(ctx context.Context, taskID string) (*Result, bool, error) {
	raw, err := r.client.Get(ctx, ResultKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Transient("read task result", err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, errors.Corruption("decode task result", err)
	}
	return &result, true, nil
}

// Wait polls for the result until it appears or ctx expires.
func (r *Results) Wait(ctx context.Context, taskID string, interval time.Duration) (*Result, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, ok, err := r.Load(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if ok {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
