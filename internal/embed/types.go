package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultModel is the multilingual instruction-tuned embedding model
	// served by the local inference service.
	DefaultModel = "intfloat/multilingual-e5-large-instruct"

	// DefaultDimension is the embedding dimension for the default model.
	DefaultDimension = 1024

	// DefaultMaxSeqLength is the model's token window. Longer inputs are
	// truncated server-side.
	DefaultMaxSeqLength = 512

	// MaxBatchSize caps the number of texts per embed-batch request.
	MaxBatchSize = 32

	// DefaultTimeout bounds a single-text embedding request.
	DefaultTimeout = 30 * time.Second

	// DefaultBatchTimeout bounds an embed-batch request, which can carry a
	// full document's chunks.
	DefaultBatchTimeout = 120 * time.Second
)

// Embedder generates vector embeddings for queries and documents.
//
// Queries and documents take different paths through the model: a query is
// wrapped in a language-adaptive instruction prefix before encoding, a
// document is encoded bare. The two must never be mixed, so the interface
// splits them instead of exposing a single Embed with a flag.
type Embedder interface {
	// EmbedQuery embeds a search query with its instruction prefix applied.
	EmbedQuery(ctx context.Context, query string) (*QueryEmbedding, error)

	// EmbedDocuments embeds document texts without any prefix, batched.
	// The returned vectors are positionally aligned with texts.
	EmbedDocuments(ctx context.Context, texts []string) (*BatchEmbedding, error)

	// Dimension returns the embedding vector size.
	Dimension() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the inference service is up with the model loaded.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// QueryEmbedding is the result of embedding a single query.
type QueryEmbedding struct {
	// Vector is the unit-length embedding.
	Vector []float32 `json:"-"`

	// Language is the detected query language, "ru" or "en".
	Language string `json:"detected_language"`

	// Prefix is the instruction prefix that was applied.
	Prefix string `json:"instruction_prefix"`

	// Tokens is the token count reported by the service.
	Tokens int `json:"tokens"`

	// Device is the inference device reported by the service.
	Device string `json:"device_used,omitempty"`

	// InferenceMS is the service-side encoding time.
	InferenceMS float64 `json:"processing_time_ms"`

	// TotalMS is the round-trip time observed by the client.
	TotalMS float64 `json:"total_time_ms"`
}

// BatchEmbedding is the result of embedding a batch of document texts.
type BatchEmbedding struct {
	// Vectors are unit-length embeddings, aligned with the input texts.
	Vectors [][]float32 `json:"-"`

	// TotalTokens is the summed token count across the batch.
	TotalTokens int `json:"total_tokens"`

	// Device is the inference device reported by the service.
	Device string `json:"device_used,omitempty"`

	// InferenceMS is the summed service-side encoding time.
	InferenceMS float64 `json:"processing_time_ms"`

	// TotalMS is the summed round-trip time observed by the client.
	TotalMS float64 `json:"total_time_ms"`
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
