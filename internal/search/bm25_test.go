package search

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/morph"
	"github.com/docrank/docrank/internal/store"
)

func vacationChunks() []store.Chunk {
	return []store.Chunk{
		{
			ID: "doc-1_0", DocumentID: "doc-1", Index: 0, AccessLevel: 20,
			Text: "Порядок оформления ежегодного отпуска сотрудника компании",
			Metadata: store.Metadata{
				"doc_id": "doc-1", "doc_title": "Регламент отпусков",
				"chunk_index": 0, "access_level": 20,
			},
		},
		{
			ID: "doc-1_1", DocumentID: "doc-1", Index: 1, AccessLevel: 20,
			Text: "Заявление на отпуск подается за две недели до даты начала отпуска",
			Metadata: store.Metadata{
				"doc_id": "doc-1", "doc_title": "Регламент отпусков",
				"chunk_index": 1, "access_level": 20,
			},
		},
		{
			ID: "doc-2_0", DocumentID: "doc-2", Index: 0, AccessLevel: 40,
			Text: "Сервер базы данных перезапускается каждую ночь автоматически",
			Metadata: store.Metadata{
				"doc_id": "doc-2", "doc_title": "Инструкция администратора",
				"chunk_index": 0, "access_level": 40,
			},
		},
	}
}

func TestBuildIndex_ScoresQueryTerms(t *testing.T) {
	tok := morph.NewTokenizer()
	idx := BuildIndex(vacationChunks(), tok)
	require.Equal(t, 3, idx.Len())

	scores := idx.Scores(tok.Tokenize("оформление отпуска"))
	require.Len(t, scores, 3)

	// Chunk 0 matches both query terms, chunk 1 only the frequent one,
	// chunk 2 shares nothing with the query.
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[1], 0.0)
	assert.Zero(t, scores[2])
}

func TestBuildIndex_FloorsCommonTermIDF(t *testing.T) {
	tok := morph.NewTokenizer()
	// One term in every document would get a negative IDF without the
	// epsilon floor and the matching documents would sink below zero.
	chunks := []store.Chunk{
		{ID: "a_0", Text: "компания утвердила регламент отпусков сотрудников"},
		{ID: "b_0", Text: "компания обновила сервер базы данных"},
		{ID: "c_0", Text: "компания подписала договор аренды офиса"},
	}
	idx := BuildIndex(chunks, tok)

	scores := idx.Scores(tok.Tokenize("компания"))
	require.Len(t, scores, 3)
	for i, s := range scores {
		assert.Greater(t, s, 0.0, "doc %d", i)
	}
}

func TestIndex_RepeatedQueryTokenAccumulates(t *testing.T) {
	tok := morph.NewTokenizer()
	idx := BuildIndex(vacationChunks(), tok)

	once := idx.Scores([]string{"отпуск"})
	twice := idx.Scores([]string{"отпуск", "отпуск"})

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, 2*once[i], twice[i])
	}
}

func TestIndex_JSONRoundTrip(t *testing.T) {
	tok := morph.NewTokenizer()
	idx := BuildIndex(vacationChunks(), tok)

	blob, err := json.Marshal(idx)
	require.NoError(t, err)

	var decoded Index
	require.NoError(t, json.Unmarshal(blob, &decoded))
	require.True(t, decoded.Valid())
	assert.Equal(t, idx.Len(), decoded.Len())
	assert.Equal(t, idx.IDs, decoded.IDs)
	assert.Equal(t, idx.Docs, decoded.Docs)

	query := tok.Tokenize("заявление на отпуск")
	assert.Equal(t, idx.Scores(query), decoded.Scores(query))
}

func TestBuildIndex_EmptyCorpus(t *testing.T) {
	idx := BuildIndex(nil, morph.NewTokenizer())
	assert.Zero(t, idx.Len())
	assert.True(t, idx.Valid())
	assert.Empty(t, idx.Scores([]string{"отпуск"}))
}

func TestBuildIndex_IDFallback(t *testing.T) {
	chunks := []store.Chunk{
		{DocumentID: "doc-9", Index: 3, Text: "график отпусков на следующий год"},
		{Index: 0, Text: "документ без идентификатора"},
	}
	idx := BuildIndex(chunks, morph.NewTokenizer())
	require.Equal(t, 2, idx.Len())
	assert.Equal(t, "doc-9_3", idx.IDs[0])
	assert.Equal(t, "unknown_1_0", idx.IDs[1])
}

func TestIndex_Valid(t *testing.T) {
	idx := BuildIndex(vacationChunks(), morph.NewTokenizer())
	require.True(t, idx.Valid())

	assert.False(t, (&Index{}).Valid())

	truncated := *idx
	truncated.IDs = truncated.IDs[:1]
	assert.False(t, truncated.Valid())

	flattened := *idx
	flattened.AvgDocLen = 0
	assert.False(t, flattened.Valid())
}
