package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/ingest"
	"github.com/docrank/docrank/internal/search"
	"github.com/docrank/docrank/internal/store"
)

// MinAccessLevel and MaxAccessLevel bound the clearance scale accepted
// by every task.
const (
	MinAccessLevel = 1
	MaxAccessLevel = 100
)

// statusTimeout bounds the terminal-status write after a failed task,
// which must land even when the task context is already cancelled.
const statusTimeout = 10 * time.Second

// ProcessDocumentArgs are the inputs of a process_document task.
type ProcessDocumentArgs struct {
	DocumentID    string `json:"document_id"`
	FilePath      string `json:"file_path"`
	AccessLevel   int    `json:"access_level"`
	DocumentTitle string `json:"document_title,omitempty"`
}

// QueryArgs are the inputs of rag_query and hybrid_search tasks.
// ChatContext is accepted and echoed; it never reaches the embedding.
type QueryArgs struct {
	Query       string `json:"query"`
	AccessLevel int    `json:"access_level"`
	ChatContext string `json:"chat_context,omitempty"`
}

// BatchSearchArgs are the inputs of a batch_hybrid_search task.
type BatchSearchArgs struct {
	Queries     []string `json:"queries"`
	AccessLevel int      `json:"access_level"`
}

// DeleteDocumentArgs are the inputs of a delete_document task.
type DeleteDocumentArgs struct {
	DocumentID string `json:"document_id"`
}

// Ingestor is the slice of the ingest pipeline the task handlers drive.
type Ingestor interface {
	ProcessDocument(ctx context.Context, documentID, path string, accessLevel int, title string) (*ingest.Report, error)
	DeleteDocument(ctx context.Context, documentID string) (*ingest.DeleteReport, error)
}

// Searcher is the slice of the hybrid retriever the task handlers drive.
type Searcher interface {
	Search(ctx context.Context, query string, accessLevel int) (*search.Report, error)
	BatchSearch(ctx context.Context, queries []string, accessLevel int, params search.Params) (*search.BatchReport, error)
	Params() search.Params
}

// StatusStore records terminal document statuses.
type StatusStore interface {
	UpdateDocumentStatus(ctx context.Context, documentID string, status store.DocumentStatus, chunkCount int) error
}

// Diagnostics supplies the snapshots served by the health_check and
// get_processing_stats tasks. The app layer implements it over the full
// stack; the worker only marshals what it gets.
type Diagnostics interface {
	Health(ctx context.Context) any
	ProcessingStats(ctx context.Context) any
}

var (
	_ Ingestor    = (*ingest.Orchestrator)(nil)
	_ Searcher    = (*search.Retriever)(nil)
	_ StatusStore = (*store.DB)(nil)
)

// Handlers dispatches queue tasks to the ingest and retrieval stacks.
// Document tasks retry on retryable kinds with the ingest policy, query
// tasks with the query policy; validation and fatal errors surface
// immediately.
type Handlers struct {
	ingestor    Ingestor
	searcher    Searcher
	rag         *RAGPipeline
	statuses    StatusStore
	diag        Diagnostics
	ingestRetry errors.RetryConfig
	queryRetry  errors.RetryConfig
	logger      *slog.Logger
}

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers)

// WithIngestRetry overrides the document task retry policy.
func WithIngestRetry(cfg errors.RetryConfig) HandlersOption {
	return func(h *Handlers) {
		h.ingestRetry = cfg
	}
}

// WithQueryRetry overrides the retrieval task retry policy.
func WithQueryRetry(cfg errors.RetryConfig) HandlersOption {
	return func(h *Handlers) {
		h.queryRetry = cfg
	}
}

// WithHandlersLogger sets the logger.
func WithHandlersLogger(logger *slog.Logger) HandlersOption {
	return func(h *Handlers) {
		h.logger = logger
	}
}

// NewHandlers wires the task surface. ingestor may be nil (no durable
// store configured), in which case document tasks fail; statuses may be
// nil, in which case terminal document states are not recorded; diag may
// be nil, in which case the diagnostics tasks fail.
func NewHandlers(ingestor Ingestor, searcher Searcher, rag *RAGPipeline, statuses StatusStore, diag Diagnostics, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		ingestor:    ingestor,
		searcher:    searcher,
		rag:         rag,
		statuses:    statuses,
		diag:        diag,
		ingestRetry: errors.IngestRetryConfig(),
		queryRetry:  errors.QueryRetryConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle runs one task and returns its payload. The error's kind
// decides the error_kind published with the result; retries for
// retryable kinds have already happened by the time Handle returns.
func (h *Handlers) Handle(ctx context.Context, task Task) (any, error) {
	switch task.Name {
	case TaskProcessDocument:
		return h.processDocument(ctx, task)
	case TaskRAGQuery:
		return h.ragQuery(ctx, task)
	case TaskHybridSearch:
		return h.hybridSearch(ctx, task)
	case TaskBatchHybridSearch:
		return h.batchHybridSearch(ctx, task)
	case TaskDeleteDocument:
		return h.deleteDocument(ctx, task)
	case TaskHealthCheck:
		return h.health(ctx)
	case TaskProcessingStats:
		return h.processingStats(ctx)
	default:
		return nil, errors.Validation("unknown task %q", task.Name)
	}
}

func (h *Handlers) processDocument(ctx context.Context, task Task) (any, error) {
	var args ProcessDocumentArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.DocumentID == "" {
		return nil, errors.Validation("document_id is required")
	}
	if args.FilePath == "" {
		return nil, errors.Validation("file_path is required")
	}
	if err := validateAccessLevel(args.AccessLevel); err != nil {
		return nil, err
	}
	if h.ingestor == nil {
		return nil, errors.Fatal("ingest pipeline not configured", nil)
	}

	report, err := errors.RetryWithResult(ctx, h.ingestRetry, func() (*ingest.Report, error) {
		return h.ingestor.ProcessDocument(ctx, args.DocumentID, args.FilePath, args.AccessLevel, args.DocumentTitle)
	})
	if err != nil {
		h.recordError(ctx, args.DocumentID)
		return nil, err
	}
	return report, nil
}

func (h *Handlers) ragQuery(ctx context.Context, task Task) (any, error) {
	args, err := queryArgs(task)
	if err != nil {
		return nil, err
	}
	if h.rag == nil {
		return nil, errors.Fatal("rag pipeline not configured", nil)
	}

	report, err := errors.RetryWithResult(ctx, h.queryRetry, func() (*RAGReport, error) {
		return h.rag.Run(ctx, args.Query, args.AccessLevel, args.ChatContext)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *Handlers) hybridSearch(ctx context.Context, task Task) (any, error) {
	args, err := queryArgs(task)
	if err != nil {
		return nil, err
	}

	report, err := errors.RetryWithResult(ctx, h.queryRetry, func() (*search.Report, error) {
		return h.searcher.Search(ctx, args.Query, args.AccessLevel)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *Handlers) batchHybridSearch(ctx context.Context, task Task) (any, error) {
	var args BatchSearchArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if len(args.Queries) == 0 {
		return nil, errors.Validation("queries must not be empty")
	}
	if err := validateAccessLevel(args.AccessLevel); err != nil {
		return nil, err
	}

	params := h.searcher.Params()
	report, err := errors.RetryWithResult(ctx, h.queryRetry, func() (*search.BatchReport, error) {
		return h.searcher.BatchSearch(ctx, args.Queries, args.AccessLevel, params)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// deleteDocument runs once; the delete itself is idempotent and the
// caller can simply resubmit.
func (h *Handlers) deleteDocument(ctx context.Context, task Task) (any, error) {
	var args DeleteDocumentArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.DocumentID == "" {
		return nil, errors.Validation("document_id is required")
	}
	if h.ingestor == nil {
		return nil, errors.Fatal("ingest pipeline not configured", nil)
	}

	report, err := h.ingestor.DeleteDocument(ctx, args.DocumentID)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *Handlers) health(ctx context.Context) (any, error) {
	if h.diag == nil {
		return nil, errors.Fatal("diagnostics not configured", nil)
	}
	return h.diag.Health(ctx), nil
}

func (h *Handlers) processingStats(ctx context.Context) (any, error) {
	if h.diag == nil {
		return nil, errors.Fatal("diagnostics not configured", nil)
	}
	return h.diag.ProcessingStats(ctx), nil
}

// recordError marks a document terminally failed once its processing
// task has failed past retries. Runs on a detached context so the
// status lands even during shutdown.
func (h *Handlers) recordError(ctx context.Context, documentID string) {
	if h.statuses == nil {
		return
	}
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()

	if err := h.statuses.UpdateDocumentStatus(statusCtx, documentID, store.StatusError, -1); err != nil {
		h.logger.Warn("error status not recorded",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
}

func queryArgs(task Task) (QueryArgs, error) {
	var args QueryArgs
	if err := decodeArgs(task, &args); err != nil {
		return args, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return args, errors.Validation("query must not be empty")
	}
	if err := validateAccessLevel(args.AccessLevel); err != nil {
		return args, err
	}
	return args, nil
}

// decodeArgs unmarshals the task arguments. A missing access_level
// decodes to zero and fails the range check; a non-integer one fails
// the unmarshal. Both surface as validation errors.
func decodeArgs(task Task, dest any) error {
	if len(task.Args) == 0 {
		return errors.Validation("task %s requires arguments", task.Name)
	}
	if err := json.Unmarshal(task.Args, dest); err != nil {
		return errors.Validation("invalid %s arguments: %v", task.Name, err)
	}
	return nil
}

func validateAccessLevel(level int) error {
	if level < MinAccessLevel || level > MaxAccessLevel {
		return errors.Validation("access_level must be in [%d, %d], got %d", MinAccessLevel, MaxAccessLevel, level)
	}
	return nil
}
