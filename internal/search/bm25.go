// Package search implements hybrid retrieval: an in-process Okapi BM25 leg,
// an ANN vector leg, Reciprocal Rank Fusion over both, cross-encoder
// reranking, and adaptive relevance thresholds.
package search

import (
	"fmt"
	"math"

	"github.com/docrank/docrank/internal/morph"
	"github.com/docrank/docrank/internal/store"
)

// Okapi parameters. Epsilon floors negative IDF values for terms that
// appear in more than half the corpus.
const (
	K1      = 1.5
	B       = 0.75
	Epsilon = 0.25
)

// Index is an Okapi BM25 index over one clearance level's corpus slice.
// It holds both the scoring state and the corpus rows so that a single
// JSON blob round-trips the whole leg through the cache tier. A decoded
// Index scores identically to the one that was encoded.
type Index struct {
	K1      float64 `json:"k1"`
	B       float64 `json:"b"`
	Epsilon float64 `json:"epsilon"`

	AvgDocLen float64            `json:"avg_doc_len"`
	DocLens   []int              `json:"doc_lens"`
	DocFreqs  []map[string]int   `json:"doc_freqs"`
	IDF       map[string]float64 `json:"idf"`

	IDs       []string         `json:"ids"`
	Docs      []string         `json:"docs"`
	Metadatas []store.Metadata `json:"metadatas"`
}

// BuildIndex tokenizes every chunk and computes the Okapi statistics.
// Document order follows the input order; Scores reports in the same order.
func BuildIndex(chunks []store.Chunk, tokenizer *morph.Tokenizer) *Index {
	idx := &Index{
		K1:        K1,
		B:         B,
		Epsilon:   Epsilon,
		DocLens:   make([]int, 0, len(chunks)),
		DocFreqs:  make([]map[string]int, 0, len(chunks)),
		IDF:       make(map[string]float64),
		IDs:       make([]string, 0, len(chunks)),
		Docs:      make([]string, 0, len(chunks)),
		Metadatas: make([]store.Metadata, 0, len(chunks)),
	}

	docCount := make(map[string]int)
	totalLen := 0
	for i, chunk := range chunks {
		tokens := tokenizer.Tokenize(chunk.Text)
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		for tok := range freqs {
			docCount[tok]++
		}
		idx.DocLens = append(idx.DocLens, len(tokens))
		idx.DocFreqs = append(idx.DocFreqs, freqs)
		totalLen += len(tokens)

		id := chunk.ID
		if id == "" {
			docID := chunk.DocumentID
			if docID == "" {
				docID = fmt.Sprintf("unknown_%d", i)
			}
			id = store.ChunkID(docID, chunk.Index)
		}
		idx.IDs = append(idx.IDs, id)
		idx.Docs = append(idx.Docs, chunk.Text)
		idx.Metadatas = append(idx.Metadatas, chunk.Metadata)
	}

	n := len(chunks)
	if n == 0 {
		return idx
	}
	idx.AvgDocLen = float64(totalLen) / float64(n)

	idfSum := 0.0
	var negative []string
	for tok, df := range docCount {
		idf := math.Log(float64(n)-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idx.IDF[tok] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, tok)
		}
	}
	floor := idx.Epsilon * idfSum / float64(len(idx.IDF))
	for _, tok := range negative {
		idx.IDF[tok] = floor
	}

	return idx
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	return len(idx.IDs)
}

// Scores returns one Okapi score per indexed chunk in corpus order.
// Unknown query tokens contribute nothing; repeated tokens contribute once
// per repetition.
func (idx *Index) Scores(tokens []string) []float64 {
	n := idx.Len()
	scores := make([]float64, n)
	if n == 0 || idx.AvgDocLen == 0 {
		return scores
	}

	for _, tok := range tokens {
		idf, ok := idx.IDF[tok]
		if !ok {
			continue
		}
		for i := 0; i < n; i++ {
			freq := float64(idx.DocFreqs[i][tok])
			if freq == 0 {
				continue
			}
			norm := idx.K1 * (1 - idx.B + idx.B*float64(idx.DocLens[i])/idx.AvgDocLen)
			scores[i] += idf * (freq * (idx.K1 + 1) / (freq + norm))
		}
	}
	return scores
}

// Valid reports whether a decoded index is structurally usable. An index
// failing this check is treated as cache corruption and rebuilt.
func (idx *Index) Valid() bool {
	if idx.K1 <= 0 || idx.B < 0 || idx.B > 1 {
		return false
	}
	n := len(idx.IDs)
	if len(idx.Docs) != n || len(idx.Metadatas) != n ||
		len(idx.DocLens) != n || len(idx.DocFreqs) != n {
		return false
	}
	if n > 0 && idx.AvgDocLen <= 0 {
		return false
	}
	return true
}
