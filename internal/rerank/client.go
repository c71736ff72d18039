// Package rerank scores (query, passage) pairs with a cross-encoder served
// by a local inference service and maps the raw logits onto the 0-10 scale
// the relevance thresholds are defined over.
package rerank

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

const (
	// DefaultModel is the cross-encoder model served by the local service.
	DefaultModel = "BAAI/bge-reranker-v2-m3"

	// DefaultMaxLength is the model's pair token window.
	DefaultMaxLength = 512

	// DefaultTimeout bounds a rerank request.
	DefaultTimeout = 30 * time.Second

	// DefaultTopK is the number of results returned when the caller does
	// not say otherwise.
	DefaultTopK = 10
)

// Reranker scores candidate passages against a query.
type Reranker interface {
	// Rerank scores documents against query and returns the top topK
	// results ordered by score descending.
	Rerank(ctx context.Context, query string, documents []string, topK int) (*Response, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the inference service is up with the model loaded.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Result is one scored passage.
type Result struct {
	// Index is the passage's position in the input slice.
	Index int `json:"index"`

	// Score is the normalized relevance score in [0, 10].
	Score float64 `json:"score"`

	// RawLogit is the cross-encoder output before normalization.
	RawLogit float64 `json:"raw_logit"`

	// Document is the passage text.
	Document string `json:"document"`
}

// Response is a completed rerank call.
type Response struct {
	// Results are the top passages, score descending.
	Results []Result

	// Degraded is set when the inference service was unreachable and the
	// results carry neutral scores in the original order.
	Degraded bool

	// Device is the inference device reported by the service.
	Device string

	// InferenceMS is the service-side scoring time.
	InferenceMS float64

	// TotalMS is the round-trip time observed by the client.
	TotalMS float64
}

// Client talks to the local reranker service over HTTP.
//
// The service scores pairs and reports raw logits per passage. Normalization
// happens client-side over the full logit set, so requests always ask for
// every document back and truncation to top_k follows the client's own
// scoring.
type Client struct {
	client    *http.Client
	transport *http.Transport
	baseURL   string
	model     string
	maxLength int
	timeout   time.Duration
	logger    *slog.Logger

	closed bool
}

// Verify interface implementation at compile time
var _ Reranker = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel sets the model identifier reported in results.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithMaxLength sets the model pair token window reported in stats.
func WithMaxLength(n int) ClientOption {
	return func(c *Client) { c.maxLength = n }
}

// WithTimeout bounds a rerank request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a reranker client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	c := &Client{
		client:    &http.Client{Transport: transport},
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     DefaultModel,
		maxLength: DefaultMaxLength,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request/response bodies for the inference service.
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k"`
}

type rerankResponse struct {
	Results          []rerankItem `json:"results"`
	ProcessingTimeMS float64      `json:"processing_time_ms"`
	DeviceUsed       string       `json:"device_used"`
}

type rerankItem struct {
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
	RawLogit float64 `json:"raw_logit"`
	Document string  `json:"document"`
}

type rerankHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	ModelName   string `json:"model_name"`
}

// Rerank scores documents against query. When the inference service is
// unreachable the call degrades to neutral scores in the original order
// instead of failing, so retrieval stays alive without the cross-encoder.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) (*Response, error) {
	if c.closed {
		return nil, errors.Fatal("reranker client is closed", nil)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(documents) == 0 {
		return &Response{Results: []Result{}}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.post(reqCtx, rerankRequest{
		Query:     query,
		Documents: documents,
		TopK:      len(documents),
	})
	if err != nil {
		c.logger.Warn("reranker unavailable, degrading to neutral scores",
			slog.Int("documents", len(documents)),
			slog.String("error", err.Error()))
		return fallbackResponse(documents, topK), nil
	}

	if len(resp.Results) != len(documents) {
		c.logger.Warn("reranker returned partial results, degrading to neutral scores",
			slog.Int("got", len(resp.Results)),
			slog.Int("want", len(documents)))
		return fallbackResponse(documents, topK), nil
	}

	// The service may have reordered; recover logits by input index.
	logits := make([]float64, len(documents))
	for _, item := range resp.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			return nil, errors.Newf(errors.KindCorruption,
				"rerank result index %d out of range for %d documents", item.Index, len(documents))
		}
		logits[item.Index] = item.RawLogit
	}

	result := &Response{
		Results:     rankResults(documents, logits, topK),
		Device:      resp.DeviceUsed,
		InferenceMS: resp.ProcessingTimeMS,
		TotalMS:     float64(time.Since(start).Microseconds()) / 1000.0,
	}

	c.logger.Debug("documents reranked",
		slog.Int("documents", len(documents)),
		slog.Int("returned", len(result.Results)),
		slog.Float64("inference_ms", resp.ProcessingTimeMS),
		slog.String("device", resp.DeviceUsed))
	return result, nil
}

// fallbackResponse preserves the input order with a neutral mid-scale score
// on every passage.
func fallbackResponse(documents []string, topK int) *Response {
	n := len(documents)
	if topK < n {
		n = topK
	}
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		results[i] = Result{Index: i, Score: degenerateScore, Document: documents[i]}
	}
	return &Response{Results: results, Degraded: true}
}

// post sends the rerank request and decodes the response.
func (c *Client) post(ctx context.Context, body rerankRequest) (*rerankResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, "failed to encode rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, "failed to build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.ModelUnavailable("reranker service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf(errors.KindModelUnavailable,
			"reranker service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(errors.KindCorruption, "failed to decode rerank response", err)
	}
	return &decoded, nil
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// MaxLength returns the model pair token window.
func (c *Client) MaxLength() int {
	return c.maxLength
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
	var health rerankHealth
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
