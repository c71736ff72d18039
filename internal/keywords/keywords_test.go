package keywords

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/embed"
)

// fakeEmbedder returns a fixed vector per known text and def for the rest.
// All vectors are unit length, matching the real service.
type fakeEmbedder struct {
	byText    map[string][]float32
	def       []float32
	err       error
	delay     time.Duration
	calls     int
	lastTexts []string
}

var _ embed.Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) (*embed.BatchEmbedding, error) {
	f.calls++
	f.lastTexts = texts
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.byText[t]; ok {
			vectors[i] = v
		} else {
			vectors[i] = f.def
		}
	}
	return &embed.BatchEmbedding{Vectors: vectors}, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) (*embed.QueryEmbedding, error) {
	return &embed.QueryEmbedding{Vector: f.def}, nil
}

func (f *fakeEmbedder) Dimension() int                    { return 3 }
func (f *fakeEmbedder) ModelName() string                 { return "fake-embedder" }
func (f *fakeEmbedder) Available(ctx context.Context) bool { return f.err == nil }
func (f *fakeEmbedder) Close() error                      { return nil }

const orderText = "Приказ о предоставлении ежегодного отпуска сотрудникам отдела продаж организации"

// steeredEmbedder makes four candidate phrases document-similar and leaves
// the rest orthogonal to the document.
func steeredEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		byText: map[string][]float32{
			orderText:            {1, 0, 0},
			"ежегодного отпуска": {0.9, 0.4358899, 0},
			"отпуска":            {0.8, 0.6, 0},
			"приказ":             {0.7, 0.7141428, 0},
			"сотрудникам":        {0.35, 0.9367497, 0},
		},
		def: []float32{0, 1, 0},
	}
}

func TestExtract_SelectsDiverseSimilarPhrases(t *testing.T) {
	fake := steeredEmbedder()
	e := NewExtractor(fake)

	kw := e.Extract(context.Background(), orderText)

	// Marginal-relevance order: most similar first, then the candidates
	// that add the most beyond what is already selected. The orthogonal
	// candidates score below the similarity floor and drop out.
	assert.Equal(t, []string{"ежегодного отпуска", "отпуска", "приказ", "сотрудникам"}, kw.Semantic)
	assert.Empty(t, kw.Technical)
	assert.Equal(t, kw.Semantic, kw.All)
	assert.Equal(t, 1, fake.calls, "document and candidates share one batch")
}

func TestExtract_ShortTextYieldsNothing(t *testing.T) {
	e := NewExtractor(steeredEmbedder())

	kw := e.Extract(context.Background(), "приказ №5 отдела")

	assert.Empty(t, kw.Semantic)
	assert.Empty(t, kw.Technical)
	assert.Empty(t, kw.All)
}

const technicalText = "Система обрабатывает файлы отчет.docx и данные.json, развернута в Docker на сервере PostgreSQL организации."

func TestExtract_WithoutEmbedderKeepsTechnical(t *testing.T) {
	e := NewExtractor(nil)

	kw := e.Extract(context.Background(), technicalText)

	assert.Empty(t, kw.Semantic)
	assert.Equal(t, []string{"postgresql", "docker", "отчет.docx", "данные.json"}, kw.Technical)
	assert.Equal(t, kw.Technical, kw.All)
}

func TestExtract_EmbedderFailureDegrades(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("embedding service down"), def: []float32{0, 1, 0}}
	e := NewExtractor(fake)

	kw := e.Extract(context.Background(), technicalText)

	assert.Empty(t, kw.Semantic)
	assert.NotEmpty(t, kw.Technical)
}

func TestExtract_ModelBudgetDegrades(t *testing.T) {
	fake := steeredEmbedder()
	fake.delay = 250 * time.Millisecond
	e := NewExtractor(fake, WithModelBudget(5*time.Millisecond))

	kw := e.Extract(context.Background(), orderText)

	assert.Empty(t, kw.Semantic)
	assert.Equal(t, 1, fake.calls)
}

func TestExtract_TruncatesLongTextForModel(t *testing.T) {
	fake := &fakeEmbedder{def: []float32{0, 1, 0}}
	e := NewExtractor(fake)

	e.Extract(context.Background(), strings.Repeat("слово ", 400))

	require.NotEmpty(t, fake.lastTexts)
	doc := fake.lastTexts[0]
	assert.Equal(t, maxModelTextRunes+3, utf8.RuneCountInString(doc))
	assert.True(t, strings.HasSuffix(doc, "..."))
}

func TestExtract_NoCandidatesSkipsModel(t *testing.T) {
	fake := steeredEmbedder()
	e := NewExtractor(fake)

	kw := e.Extract(context.Background(), strings.Repeat("я ", 30))

	assert.Empty(t, kw.All)
	assert.Zero(t, fake.calls)
}

func TestExtractBatch(t *testing.T) {
	e := NewExtractor(nil)

	results := e.ExtractBatch(context.Background(), []string{technicalText, "мало"})

	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Technical)
	assert.Empty(t, results[1].All)
}

func TestCandidatePhrases(t *testing.T) {
	phrases := candidatePhrases("Слово слово другое")

	assert.Equal(t, []string{"слово", "слово слово", "слово другое", "другое"}, phrases)
}

func TestKeepKeyphrase(t *testing.T) {
	tests := []struct {
		phrase string
		score  float64
		want   bool
	}{
		{"отпуск", 0.5, true},
		{"отпуск", 0.2, false},
		{"так", 0.9, false},
		{"пункт", 0.9, false},
		{"но", 0.9, false},
		{"5 дней", 0.9, false},
		{"a___b", 0.9, false},
		{"один два три", 0.9, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keepKeyphrase(tt.phrase, tt.score), "%q score %v", tt.phrase, tt.score)
	}
}

func TestMergeDeduped(t *testing.T) {
	merged := mergeDeduped([]string{"a", "b", "c"}, []string{"b", "d"}, 20)
	assert.Equal(t, []string{"a", "b", "c", "d"}, merged)

	capped := mergeDeduped([]string{"a", "b", "c"}, []string{"d"}, 3)
	assert.Equal(t, []string{"a", "b", "c"}, capped)
}

func TestDocumentSummary(t *testing.T) {
	chunks := []Keywords{
		{Semantic: []string{"приказ", "отпуск"}, Technical: []string{"docker"}},
		{Semantic: []string{"отпуск", "график"}, Technical: []string{"docker", "postgresql"}},
		{Semantic: []string{"отпуск"}},
	}

	doc := DocumentSummary(chunks)

	assert.Equal(t, []string{"отпуск", "приказ", "график"}, doc.Semantic)
	assert.Equal(t, []string{"docker", "postgresql"}, doc.Technical)
	assert.Equal(t, []string{"отпуск", "приказ", "график", "docker", "postgresql"}, doc.All)
}

func TestModelInfo(t *testing.T) {
	e := NewExtractor(steeredEmbedder())

	info := e.ModelInfo(context.Background())

	assert.Equal(t, "fake-embedder", info.ModelName)
	assert.True(t, info.Available)
	assert.True(t, info.SupportsMultilingual)
	assert.Equal(t, MaxPerChunk, info.MaxKeywordsPerChunk)
	assert.Equal(t, MaxPerDocument, info.MaxKeywordsPerDocument)

	bare := NewExtractor(nil).ModelInfo(context.Background())
	assert.Empty(t, bare.ModelName)
	assert.False(t, bare.Available)
}
