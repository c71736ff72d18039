// Package keywords extracts per-chunk keyphrases: semantic ones through the
// embedding service with maximal-marginal-relevance selection, and technical
// ones through a fixed regex catalogue that works with no model at all.
package keywords

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/docrank/docrank/internal/embed"
)

const (
	// MaxPerChunk caps the keywords kept per chunk, per list.
	MaxPerChunk = 10

	// MaxPerDocument caps the combined keyword list of a chunk and the
	// aggregated lists of a document.
	MaxPerDocument = 20

	// minTextRunes is the shortest text worth extracting from.
	minTextRunes = 50

	// maxModelTextRunes bounds the text sent to the embedding model.
	maxModelTextRunes = 2000

	// candidatePool is how many document-similar candidates enter the
	// marginal-relevance selection.
	candidatePool = 20

	// topKeyphrases is how many phrases the selection returns before
	// filtering.
	topKeyphrases = 10

	// diversity balances relevance against variety during selection.
	diversity = 0.5

	// minScore is the document-similarity floor for a keyphrase.
	minScore = 0.3

	// DefaultModelBudget bounds one semantic extraction; past it the chunk
	// keeps only its technical keywords.
	DefaultModelBudget = 30 * time.Second
)

// Phrases the selection must never return.
var russianStopWords = map[string]bool{
	"это": true, "для": true, "или": true, "как": true, "что": true,
	"так": true, "все": true, "еще": true, "уже": true, "его": true,
	"ее": true, "их": true, "они": true, "она": true, "оно": true,
	"мы": true, "вы": true, "ты": true, "я": true, "он": true,
	"при": true, "под": true, "над": true, "дата": true, "года": true,
	"год": true, "лет": true, "день": true, "время": true, "место": true,
	"номер": true, "пункт": true,
}

// Candidate words, two characters or longer.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Keywords is the extraction result for one chunk.
type Keywords struct {
	Semantic  []string `json:"semantic_keywords"`
	Technical []string `json:"technical_keywords"`
	All       []string `json:"all_keywords"`
}

// DocumentKeywords aggregates chunk keywords over a whole document.
type DocumentKeywords struct {
	Semantic  []string `json:"document_semantic_keywords"`
	Technical []string `json:"document_technical_keywords"`
	All       []string `json:"document_all_keywords"`
}

// ModelInfo describes the semantic extraction backend.
type ModelInfo struct {
	ModelName              string `json:"model_name"`
	Available              bool   `json:"model_available"`
	SupportsMultilingual   bool   `json:"supports_multilingual"`
	MaxKeywordsPerChunk    int    `json:"max_keywords_per_chunk"`
	MaxKeywordsPerDocument int    `json:"max_keywords_per_document"`
}

// Extractor extracts keywords. The embedder is optional: without it, or when
// it fails or runs past the budget, chunks keep their technical keywords and
// the semantic list is empty.
type Extractor struct {
	embedder embed.Embedder
	budget   time.Duration
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithModelBudget bounds a single semantic extraction.
func WithModelBudget(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.budget = d
		}
	}
}

// NewExtractor creates an extractor. embedder may be nil.
func NewExtractor(embedder embed.Embedder, opts ...Option) *Extractor {
	e := &Extractor{
		embedder: embedder,
		budget:   DefaultModelBudget,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the keywords of one chunk. It never fails: semantic
// extraction degrades to an empty list and technical extraction is pure.
func (e *Extractor) Extract(ctx context.Context, text string) Keywords {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minTextRunes {
		return Keywords{}
	}

	semantic, err := e.semanticKeywords(ctx, text)
	if err != nil {
		e.logger.Warn("semantic keyword extraction degraded",
			slog.String("error", err.Error()))
		semantic = nil
	}
	technical := TechnicalTerms(text)

	return Keywords{
		Semantic:  semantic,
		Technical: technical,
		All:       mergeDeduped(semantic, technical, MaxPerDocument),
	}
}

// ExtractBatch extracts keywords for each text in order.
func (e *Extractor) ExtractBatch(ctx context.Context, texts []string) []Keywords {
	results := make([]Keywords, len(texts))
	for i, text := range texts {
		results[i] = e.Extract(ctx, text)
	}
	e.logger.Info("keyword batch extracted", slog.Int("texts", len(texts)))
	return results
}

// semanticKeywords embeds the text and its candidate phrases in one batch,
// keeps the most document-similar candidates, and picks a diverse subset by
// maximal marginal relevance. Scores are document similarities.
func (e *Extractor) semanticKeywords(ctx context.Context, text string) ([]string, error) {
	if e.embedder == nil {
		return nil, nil
	}

	if runes := []rune(text); len(runes) > maxModelTextRunes {
		text = string(runes[:maxModelTextRunes]) + "..."
	}
	candidates := candidatePhrases(text)
	if len(candidates) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	batch, err := e.embedder.EmbedDocuments(ctx, append([]string{text}, candidates...))
	if err != nil {
		return nil, err
	}
	if len(batch.Vectors) != len(candidates)+1 {
		return nil, nil
	}
	docVec := batch.Vectors[0]
	candVecs := batch.Vectors[1:]

	// Vectors are unit length, so the dot product is the cosine similarity.
	sims := make([]float64, len(candVecs))
	for i, v := range candVecs {
		sims[i] = dot(docVec, v)
	}

	pool := topBySimilarity(sims, candidatePool)
	selected := mmrSelect(sims, candVecs, pool, topKeyphrases)

	keywords := make([]string, 0, len(selected))
	for _, idx := range selected {
		if keepKeyphrase(candidates[idx], sims[idx]) {
			keywords = append(keywords, candidates[idx])
		}
	}
	if len(keywords) > MaxPerChunk {
		keywords = keywords[:MaxPerChunk]
	}
	return keywords, nil
}

// candidatePhrases lists the unique lowercased unigrams and bigrams of the
// text in order of first occurrence.
func candidatePhrases(text string) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(words)*2)
	phrases := make([]string, 0, len(words)*2)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			phrases = append(phrases, p)
		}
	}
	for i, w := range words {
		add(w)
		if i+1 < len(words) {
			add(w + " " + words[i+1])
		}
	}
	return phrases
}

// topBySimilarity returns the indexes of the n most similar candidates,
// most similar first. Ties keep input order.
func topBySimilarity(sims []float64, n int) []int {
	idx := make([]int, len(sims))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return sims[idx[a]] > sims[idx[b]]
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}

// mmrSelect picks up to topN candidates from the pool. The first pick is the
// most document-similar candidate; each further pick maximizes
// (1-diversity)*docSim - diversity*maxSimToSelected.
func mmrSelect(sims []float64, vecs [][]float32, pool []int, topN int) []int {
	if len(pool) == 0 {
		return nil
	}
	selected := []int{pool[0]}
	remaining := append([]int(nil), pool[1:]...)

	for len(selected) < topN && len(remaining) > 0 {
		best, bestScore := -1, math.Inf(-1)
		for ri, ci := range remaining {
			maxSim := math.Inf(-1)
			for _, si := range selected {
				if s := dot(vecs[ci], vecs[si]); s > maxSim {
					maxSim = s
				}
			}
			score := (1-diversity)*sims[ci] - diversity*maxSim
			if score > bestScore {
				best, bestScore = ri, score
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return selected
}

// keepKeyphrase applies the quality gate to a selected phrase.
func keepKeyphrase(phrase string, score float64) bool {
	if utf8.RuneCountInString(phrase) < 3 || score <= minScore {
		return false
	}
	if russianStopWords[phrase] {
		return false
	}
	if first, _ := utf8.DecodeRuneInString(phrase); unicode.IsDigit(first) {
		return false
	}
	if strings.Contains(phrase, "___") {
		return false
	}
	return len(strings.Fields(phrase)) <= 2
}

// mergeDeduped concatenates the lists keeping first occurrences, capped.
func mergeDeduped(a, b []string, limit int) []string {
	seen := make(map[string]bool, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, kw := range list {
			if !seen[kw] {
				seen[kw] = true
				merged = append(merged, kw)
			}
		}
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// DocumentSummary aggregates chunk keywords by frequency: the top 15
// semantic, the top 15 technical, and their combination capped at 20.
func DocumentSummary(chunks []Keywords) DocumentKeywords {
	semantic := rankByFrequency(chunks, func(k Keywords) []string { return k.Semantic }, 15)
	technical := rankByFrequency(chunks, func(k Keywords) []string { return k.Technical }, 15)
	return DocumentKeywords{
		Semantic:  semantic,
		Technical: technical,
		All:       mergeDeduped(semantic, technical, MaxPerDocument),
	}
}

// rankByFrequency orders keywords by how many chunks mention them, most
// frequent first, ties in order of first appearance.
func rankByFrequency(chunks []Keywords, pick func(Keywords) []string, limit int) []string {
	counts := make(map[string]int)
	var order []string
	for _, ch := range chunks {
		for _, kw := range pick(ch) {
			if counts[kw] == 0 {
				order = append(order, kw)
			}
			counts[kw]++
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] > counts[order[b]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

// ModelInfo reports the semantic backend and the extraction limits.
func (e *Extractor) ModelInfo(ctx context.Context) ModelInfo {
	info := ModelInfo{
		SupportsMultilingual:   true,
		MaxKeywordsPerChunk:    MaxPerChunk,
		MaxKeywordsPerDocument: MaxPerDocument,
	}
	if e.embedder != nil {
		info.ModelName = e.embedder.ModelName()
		info.Available = e.embedder.Available(ctx)
	}
	return info
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
