// Package chroma talks to the external vector store over its REST API and
// pools long-lived clients for concurrent retrieval work.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/docrank/docrank/internal/errors"
)

// DefaultCollection is the single collection holding every chunk.
const DefaultCollection = "documents"

// HNSWMetadata tunes the ANN graph at collection creation. The cosine space
// is load-bearing: similarity is computed as 1 - distance downstream.
func HNSWMetadata() map[string]any {
	return map[string]any{
		"hnsw:space":           "cosine",
		"hnsw:construction_ef": 200,
		"hnsw:search_ef":       100,
		"hnsw:M":               16,
	}
}

// Client is one HTTP connection to the vector store, bound to a collection.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	collectionID string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCollection overrides the collection name.
func WithCollection(name string) ClientOption {
	return func(c *Client) {
		c.collection = name
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a vector-store client for the given base URL
// (e.g. http://localhost:8000).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		collection: DefaultCollection,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Heartbeat verifies the store is reachable.
func (c *Client) Heartbeat(ctx context.Context) error {
	var out map[string]any
	return c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, &out)
}

type collectionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// EnsureCollection creates the collection if missing and caches its id.
// Safe to call repeatedly; every data operation goes through it.
func (c *Client) EnsureCollection(ctx context.Context) error {
	_, err := c.collectionRef(ctx)
	return err
}

func (c *Client) collectionRef(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.collectionID != "" {
		id := c.collectionID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	body := map[string]any{
		"name":          c.collection,
		"metadata":      HNSWMetadata(),
		"get_or_create": true,
	}
	var resp collectionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.Corruption("vector store returned collection without id", nil)
	}

	c.mu.Lock()
	c.collectionID = resp.ID
	c.mu.Unlock()

	c.logger.Debug("collection ensured",
		slog.String("collection", c.collection),
		slog.String("id", resp.ID))
	return resp.ID, nil
}

// Add upserts chunk records. All four slices must be index-aligned.
func (c *Client) Add(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	if len(ids) != len(embeddings) || len(ids) != len(documents) || len(ids) != len(metadatas) {
		return errors.Validation("chunk id/embedding/document/metadata lengths differ: %d/%d/%d/%d",
			len(ids), len(embeddings), len(documents), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}
	id, err := c.collectionRef(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	var out any
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/add", body, &out); err != nil {
		return err
	}
	c.logger.Info("chunks stored in vector index", slog.Int("count", len(ids)))
	return nil
}

// QueryResult is the flattened response for a single query embedding.
type QueryResult struct {
	IDs       []string
	Documents []string
	Metadatas []map[string]any
	Distances []float32
}

type rawQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float32        `json:"distances"`
}

// Query runs ANN search for one embedding. The where filter is mandatory on
// every retrieval path: callers pass the access-level predicate.
func (c *Client) Query(ctx context.Context, embedding []float32, nResults int, where map[string]any) (QueryResult, error) {
	id, err := c.collectionRef(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        nResults,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		body["where"] = where
	}

	var raw rawQueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/query", body, &raw); err != nil {
		return QueryResult{}, err
	}

	var result QueryResult
	if len(raw.IDs) > 0 {
		result.IDs = raw.IDs[0]
	}
	if len(raw.Documents) > 0 {
		result.Documents = raw.Documents[0]
	}
	if len(raw.Metadatas) > 0 {
		result.Metadatas = raw.Metadatas[0]
	}
	if len(raw.Distances) > 0 {
		result.Distances = raw.Distances[0]
	}
	return result, nil
}

// GetResult is a filtered read without scoring.
type GetResult struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

// GetWhere reads chunks matching a metadata filter. A zero limit reads
// everything that matches.
func (c *Client) GetWhere(ctx context.Context, where map[string]any, limit, offset int) (GetResult, error) {
	id, err := c.collectionRef(ctx)
	if err != nil {
		return GetResult{}, err
	}
	body := map[string]any{
		"include": []string{"documents", "metadatas"},
	}
	if len(where) > 0 {
		body["where"] = where
	}
	if limit > 0 {
		body["limit"] = limit
	}
	if offset > 0 {
		body["offset"] = offset
	}

	var result GetResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/get", body, &result); err != nil {
		return GetResult{}, err
	}
	return result, nil
}

// Delete removes chunks by explicit ids, by metadata filter, or both.
func (c *Client) Delete(ctx context.Context, ids []string, where map[string]any) error {
	if len(ids) == 0 && len(where) == 0 {
		return nil
	}
	id, err := c.collectionRef(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{}
	if len(ids) > 0 {
		body["ids"] = ids
	}
	if len(where) > 0 {
		body["where"] = where
	}
	var out any
	return c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/delete", body, &out)
}

// Count returns the number of stored chunks.
func (c *Client) Count(ctx context.Context) (int, error) {
	id, err := c.collectionRef(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+id+"/count", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// AccessFilter builds the clearance predicate applied to every retrieval.
func AccessFilter(accessLevel int) map[string]any {
	return map[string]any{"access_level": map[string]any{"$lte": accessLevel}}
}

// DocumentFilter matches every chunk of one document.
func DocumentFilter(docID string) map[string]any {
	return map[string]any{"doc_id": docID}
}

// TailFilter matches the chunks of one document whose index is at or past
// fromIndex.
func TailFilter(docID string, fromIndex int) map[string]any {
	return map[string]any{"$and": []map[string]any{
		{"doc_id": docID},
		{"chunk_index": map[string]any{"$gte": fromIndex}},
	}}
}

// do sends one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Fatal("encode vector store request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Fatal("build vector store request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Transient(fmt.Sprintf("vector store request %s failed", path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Transient("read vector store response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return errors.Transient(fmt.Sprintf("vector store %s returned %d: %s", path, resp.StatusCode, snippet(data)), nil)
	case resp.StatusCode >= 400:
		return errors.Validation("vector store %s rejected request (%d): %s", path, resp.StatusCode, snippet(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Corruption(fmt.Sprintf("decode vector store %s response", path), err)
	}
	return nil
}

func snippet(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
