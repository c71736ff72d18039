package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docrank/docrank/internal/app"
	"github.com/docrank/docrank/internal/cache"
	"github.com/docrank/docrank/internal/keywords"
	"github.com/docrank/docrank/internal/output"
	"github.com/docrank/docrank/internal/search"
	"github.com/docrank/docrank/internal/store"
)

func TestRenderStatsAllSections(t *testing.T) {
	stats := app.StatsReport{
		Collection: store.CollectionStats{Collection: "documents", TotalChunks: 7, DistanceMetric: "cosine"},
		Embedding:  app.EmbeddingModelInfo{Model: "multilingual-e5-large", Dimension: 1024, MaxSeqLength: 512, Available: true},
		Reranking:  app.RerankingModelInfo{Model: "bge-reranker-v2-m3", MaxLength: 512, Available: true},
		Keywords:   keywords.ModelInfo{ModelName: "multilingual-e5-large", Available: true},
		Search: search.RetrieverStats{
			BM25Initialized: true,
			BM25DocsCount:   7,
			BM25Rebuilds:    2,
			SearchMethods:   []string{"hybrid", "vector", "bm25"},
			DefaultWeights:  search.Weights{Vector: 0.6, BM25: 0.4},
		},
		Cache: cache.Stats{ResultKeys: 3, BM25Keys: 1, MemoryUsed: "1.1M"},
		Documents: &store.DBStats{
			TotalDocuments:    5,
			DocumentsByStatus: map[string]int{"completed": 4, "pending": 1},
			TotalChunks:       40,
			AccessLevels:      []int{1, 20},
		},
		Processors: map[string]string{".docx": "DocxParser", ".csv": "CSVParser"},
	}

	buf := new(bytes.Buffer)
	renderStats(output.New(buf), stats)

	out := buf.String()
	assert.Contains(t, out, "name: documents")
	assert.Contains(t, out, "distance metric: cosine")
	assert.Contains(t, out, "embedding: multilingual-e5-large (1024 dims, available: true)")
	assert.Contains(t, out, "reranking: bge-reranker-v2-m3 (max length 512, available: true)")
	assert.Contains(t, out, "methods: hybrid, vector, bm25")
	assert.Contains(t, out, "bm25: initialized: true, documents: 7, rebuilds: 2")
	assert.Contains(t, out, "weights: vector 0.60 / bm25 0.40")
	assert.Contains(t, out, "result keys: 3")
	assert.Contains(t, out, "memory used: 1.1M")
	assert.Contains(t, out, "total: 5")
	assert.Contains(t, out, "completed: 4")
	assert.Contains(t, out, "pending: 1")
	assert.Contains(t, out, "access levels: [1 20]")
	assert.Contains(t, out, ".csv: CSVParser")
	assert.Contains(t, out, ".docx: DocxParser")
}

func TestRenderStatsSortsMapSections(t *testing.T) {
	stats := app.StatsReport{
		Processors: map[string]string{".json": "JSONParser", ".csv": "CSVParser", ".docx": "DocxParser"},
	}

	buf := new(bytes.Buffer)
	renderStats(output.New(buf), stats)

	out := buf.String()
	assert.Less(t, strings.Index(out, ".csv"), strings.Index(out, ".docx"))
	assert.Less(t, strings.Index(out, ".docx"), strings.Index(out, ".json"))
}

func TestRenderStatsWithoutDurableStore(t *testing.T) {
	stats := app.StatsReport{
		Processors: map[string]string{".json": "JSONParser"},
	}

	buf := new(bytes.Buffer)
	renderStats(output.New(buf), stats)

	out := buf.String()
	assert.NotContains(t, out, "Documents")
	assert.Contains(t, out, ".json: JSONParser")
}

func TestStatsCmdHasJSONFlag(t *testing.T) {
	sub := findCommand(t, NewRootCmd(), "stats")

	flag := sub.Flags().Lookup("json")
	assert.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
