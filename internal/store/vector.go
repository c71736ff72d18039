package store

import (
	"context"
	"log/slog"

	"github.com/docrank/docrank/internal/chroma"
	"github.com/docrank/docrank/internal/errors"
)

// DefaultVectorTopK is how many candidates an ANN query returns before
// fusion and reranking narrow them down.
const DefaultVectorTopK = 30

// VectorHit is one ANN match with the cosine similarity recovered from the
// store's distance.
type VectorHit struct {
	ID         string
	Content    string
	Metadata   Metadata
	Similarity float64
}

// VectorStore writes chunks to and queries the pooled vector collection.
// Every read carries an access-level predicate; there is no unfiltered
// query path.
type VectorStore struct {
	pool   *chroma.Pool[*chroma.Client]
	logger *slog.Logger
}

// VectorOption configures a VectorStore.
type VectorOption func(*VectorStore)

// WithVectorLogger sets the logger.
func WithVectorLogger(logger *slog.Logger) VectorOption {
	return func(v *VectorStore) {
		v.logger = logger
	}
}

// NewVectorStore wraps a client pool. The pool owns connection lifecycle;
// the store owns the chunk mapping.
func NewVectorStore(pool *chroma.Pool[*chroma.Client], opts ...VectorOption) *VectorStore {
	v := &VectorStore{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddChunks upserts chunks with their embeddings. Chunks and embeddings are
// index-aligned; list-valued metadata is flattened because the collection
// only stores scalars.
func (v *VectorStore) AddChunks(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return errors.Validation("chunk and embedding counts differ: %d vs %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	documents := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = ChunkID(chunk.DocumentID, chunk.Index)
		}
		ids[i] = id
		documents[i] = chunk.Text
		metadatas[i] = chunk.Metadata.Flat()
	}

	err := v.pool.WithClient(ctx, func(c *chroma.Client) error {
		return c.Add(ctx, ids, embeddings, documents, metadatas)
	})
	if err != nil {
		return err
	}
	v.logger.Info("chunks written to vector store", slog.Int("count", len(chunks)))
	return nil
}

// Search runs an ANN query restricted to chunks at or below accessLevel.
// Similarity is 1 - cosine distance, so identical vectors score 1.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK, accessLevel int) ([]VectorHit, error) {
	if topK <= 0 {
		topK = DefaultVectorTopK
	}

	var result chroma.QueryResult
	err := v.pool.WithClient(ctx, func(c *chroma.Client) error {
		var qerr error
		result, qerr = c.Query(ctx, embedding, topK, chroma.AccessFilter(accessLevel))
		return qerr
	})
	if err != nil {
		return nil, err
	}

	hits := make([]VectorHit, 0, len(result.IDs))
	for i, id := range result.IDs {
		hit := VectorHit{ID: id}
		if i < len(result.Documents) {
			hit.Content = result.Documents[i]
		}
		if i < len(result.Metadatas) {
			hit.Metadata = Metadata(result.Metadatas[i])
		}
		if i < len(result.Distances) {
			hit.Similarity = 1 - float64(result.Distances[i])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// ChunksForLevel reads every chunk visible at accessLevel. The keyword
// index is built from this snapshot so both retrieval legs see the same
// corpus slice.
func (v *VectorStore) ChunksForLevel(ctx context.Context, accessLevel int) ([]Chunk, error) {
	var result chroma.GetResult
	err := v.pool.WithClient(ctx, func(c *chroma.Client) error {
		var gerr error
		result, gerr = c.GetWhere(ctx, chroma.AccessFilter(accessLevel), 0, 0)
		return gerr
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(result.IDs))
	for i, id := range result.IDs {
		chunk := Chunk{ID: id, AccessLevel: accessLevel}
		if i < len(result.Documents) {
			chunk.Text = result.Documents[i]
		}
		if i < len(result.Metadatas) {
			chunk.Metadata = Metadata(result.Metadatas[i])
			chunk.DocumentID = chunk.Metadata.String("doc_id")
			if idx, ok := chunk.Metadata.Int("chunk_index"); ok {
				chunk.Index = idx
			}
			if lvl, ok := chunk.Metadata.Int("access_level"); ok {
				chunk.AccessLevel = lvl
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// DeleteDocument removes every chunk of one document and reports how many
// were deleted.
func (v *VectorStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	var deleted int
	err := v.pool.WithClient(ctx, func(c *chroma.Client) error {
		existing, gerr := c.GetWhere(ctx, chroma.DocumentFilter(documentID), 0, 0)
		if gerr != nil {
			return gerr
		}
		if len(existing.IDs) == 0 {
			return nil
		}
		if derr := c.Delete(ctx, existing.IDs, nil); derr != nil {
			return derr
		}
		deleted = len(existing.IDs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted == 0 {
		v.logger.Info("no chunks found for document", slog.String("document_id", documentID))
	} else {
		v.logger.Info("document chunks deleted",
			slog.String("document_id", documentID),
			slog.Int("count", deleted))
	}
	return deleted, nil
}

// DeleteChunksFrom removes the chunks of a document whose index is at or past
// fromIndex. Reprocessing uses it to trim the stale tail when a document
// shrinks.
func (v *VectorStore) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int, error) {
	var deleted int
	err := v.pool.WithClient(ctx, func(c *chroma.Client) error {
		existing, gerr := c.GetWhere(ctx, chroma.TailFilter(documentID, fromIndex), 0, 0)
		if gerr != nil {
			return gerr
		}
		if len(existing.IDs) == 0 {
			return nil
		}
		if derr := c.Delete(ctx, existing.IDs, nil); derr != nil {
			return derr
		}
		deleted = len(existing.IDs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		v.logger.Info("stale chunk tail deleted",
			slog.String("document_id", documentID),
			slog.Int("from_index", fromIndex),
			slog.Int("count", deleted))
	}
	return deleted, nil
}

// CollectionStats describes the vector collection.
type CollectionStats struct {
	Collection     string `json:"collection_name"`
	TotalChunks    int    `json:"total_chunks"`
	DistanceMetric string `json:"distance_metric"`
}

// Stats returns collection-level counters.
func (v *VectorStore) Stats(ctx context.Context) (CollectionStats, error) {
	var count int
	err := v.pool.WithClient(ctx, func(c *chroma.Client) error {
		var cerr error
		count, cerr = c.Count(ctx)
		return cerr
	})
	if err != nil {
		return CollectionStats{}, err
	}
	return CollectionStats{
		Collection:     chroma.DefaultCollection,
		TotalChunks:    count,
		DistanceMetric: "cosine",
	}, nil
}

// Healthy reports whether the store answers a heartbeat within ctx.
func (v *VectorStore) Healthy(ctx context.Context) bool {
	return v.pool.Health(ctx).Healthy
}

// PoolStats exposes the connection pool counters for diagnostics.
func (v *VectorStore) PoolStats() chroma.PoolStats {
	return v.pool.Stats()
}

// PoolHealth runs one borrow-and-return probe against the pool.
func (v *VectorStore) PoolHealth(ctx context.Context) chroma.PoolHealth {
	return v.pool.Health(ctx)
}
