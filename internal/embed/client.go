package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docrank/docrank/internal/errors"
)

// Client talks to the local embedding inference service over HTTP.
//
// The client owns instruction prefixing: queries are wrapped in the prefix
// matching their detected language before they leave the process, and every
// request carries is_query=false so a prefixing server never applies a
// second one.
type Client struct {
	client    *http.Client
	transport *http.Transport
	baseURL   string
	model     string
	dims      int
	maxSeq    int
	batchSize int

	timeout      time.Duration
	batchTimeout time.Duration
	logger       *slog.Logger

	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel sets the model identifier reported in results.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithDimension sets the expected embedding dimension.
func WithDimension(dims int) ClientOption {
	return func(c *Client) { c.dims = dims }
}

// WithMaxSeqLength sets the model token window reported in stats.
func WithMaxSeqLength(n int) ClientOption {
	return func(c *Client) { c.maxSeq = n }
}

// WithBatchSize caps texts per embed-batch request.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithTimeout bounds a single-text request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBatchTimeout bounds an embed-batch request.
func WithBatchTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates an embedding client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	c := &Client{
		client:       &http.Client{Transport: transport},
		transport:    transport,
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        DefaultModel,
		dims:         DefaultDimension,
		maxSeq:       DefaultMaxSeqLength,
		batchSize:    MaxBatchSize,
		timeout:      DefaultTimeout,
		batchTimeout: DefaultBatchTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.batchSize > MaxBatchSize {
		c.batchSize = MaxBatchSize
	}
	return c
}

// Request/response bodies for the inference service.
type embedRequest struct {
	Text    string `json:"text"`
	IsQuery bool   `json:"is_query"`
}

type embedResponse struct {
	Embedding         []float32 `json:"embedding"`
	ProcessingTimeMS  float64   `json:"processing_time_ms"`
	DeviceUsed        string    `json:"device_used"`
	Tokens            int       `json:"tokens"`
	DetectedLanguage  string    `json:"detected_language"`
	InstructionPrefix string    `json:"instruction_prefix"`
}

type embedBatchRequest struct {
	Texts     []string `json:"texts"`
	IsQuery   bool     `json:"is_query"`
	BatchSize int      `json:"batch_size"`
}

type embedBatchResponse struct {
	Embeddings       [][]float32    `json:"embeddings"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
	DeviceUsed       string         `json:"device_used"`
	TotalTokens      int            `json:"total_tokens"`
	ModelInfo        map[string]any `json:"model_info"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	ModelName   string `json:"model_name"`
}

// EmbedQuery embeds a search query with its instruction prefix applied.
func (c *Client) EmbedQuery(ctx context.Context, query string) (*QueryEmbedding, error) {
	if c.closed {
		return nil, errors.Fatal("embedding client is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.Validation("query must not be empty")
	}

	prefix, language := QueryPrefix(query)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var resp embedResponse
	if err := c.post(reqCtx, "/embed", embedRequest{Text: prefix + query}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) != c.dims {
		return nil, errors.Newf(errors.KindCorruption,
			"embedding dimension mismatch: got %d, want %d", len(resp.Embedding), c.dims)
	}

	result := &QueryEmbedding{
		Vector:      normalizeVector(resp.Embedding),
		Language:    language,
		Prefix:      prefix,
		Tokens:      resp.Tokens,
		Device:      resp.DeviceUsed,
		InferenceMS: resp.ProcessingTimeMS,
		TotalMS:     float64(time.Since(start).Microseconds()) / 1000.0,
	}

	c.logger.Debug("query embedded",
		slog.String("language", language),
		slog.Int("tokens", resp.Tokens),
		slog.Float64("inference_ms", resp.ProcessingTimeMS))
	return result, nil
}

// EmbedDocuments embeds document texts without any prefix, splitting the
// input into batches of at most MaxBatchSize texts per request. Empty texts
// become zero vectors without a service call.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) (*BatchEmbedding, error) {
	if c.closed {
		return nil, errors.Fatal("embedding client is closed", nil)
	}
	if len(texts) == 0 {
		return &BatchEmbedding{Vectors: [][]float32{}}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			vectors[i] = make([]float32, c.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	result := &BatchEmbedding{Vectors: vectors}
	for start := 0; start < len(nonEmpty); start += c.batchSize {
		select {
		case <-ctx.Done():
			return nil, errors.Transient("embedding batch cancelled", ctx.Err())
		default:
		}

		end := start + c.batchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.batchTimeout)
		began := time.Now()
		var resp embedBatchResponse
		err := c.post(reqCtx, "/embed-batch", embedBatchRequest{
			Texts:     batchTexts,
			BatchSize: len(batchTexts),
		}, &resp)
		cancel()
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(batchTexts) {
			return nil, errors.Newf(errors.KindCorruption,
				"embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(batchTexts))
		}

		for i, emb := range resp.Embeddings {
			if len(emb) != c.dims {
				return nil, errors.Newf(errors.KindCorruption,
					"embedding dimension mismatch: got %d, want %d", len(emb), c.dims)
			}
			vectors[batch[i].idx] = normalizeVector(emb)
		}

		result.TotalTokens += resp.TotalTokens
		result.InferenceMS += resp.ProcessingTimeMS
		result.TotalMS += float64(time.Since(began).Microseconds()) / 1000.0
		if resp.DeviceUsed != "" {
			result.Device = resp.DeviceUsed
		}
	}

	c.logger.Debug("documents embedded",
		slog.Int("texts", len(texts)),
		slog.Int("total_tokens", result.TotalTokens),
		slog.Float64("inference_ms", result.InferenceMS))
	return result, nil
}

// post sends a JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.KindValidation, "failed to encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(errors.KindValidation, "failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.ModelUnavailable("embedding service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return errors.Newf(errors.KindModelUnavailable,
				"embedding service returned %d: %s", resp.StatusCode, string(respBody))
		}
		return errors.Newf(errors.KindValidation,
			"embedding request rejected with %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.KindCorruption, "failed to decode embedding response", err)
	}
	return nil
}

// Dimension returns the embedding vector size.
func (c *Client) Dimension() int {
	return c.dims
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// MaxSeqLength returns the model token window.
func (c *Client) MaxSeqLength() int {
	return c.maxSeq
}

// Available checks if the service is up with the model loaded.
func (c *Client) Available(ctx context.Context) bool {
	if c.closed {
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.ModelLoaded
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
