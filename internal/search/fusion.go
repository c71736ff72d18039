package search

import (
	"sort"

	"github.com/docrank/docrank/internal/store"
)

// DefaultRRFK is the standard RRF smoothing parameter; k=60 is the
// cross-domain default.
const DefaultRRFK = 60

// Leg markers for fusion candidates.
const (
	SourceVector = "vector"
	SourceBM25   = "bm25"
)

// Candidate is one leg's scored record before fusion.
type Candidate struct {
	ID       string         // chunk id
	Content  string         // chunk text
	Metadata store.Metadata // chunk metadata as stored
	Score    float64        // leg-native score: similarity or Okapi
	Source   string         // which leg produced it
	Rank     int            // 1-indexed position within its leg
}

// Fused is a deduplicated record with its combined score. The embedded
// candidate is the vector-leg record when the chunk appeared in both legs.
type Fused struct {
	Candidate
	RRFScore float64
	Rank     int // 1-indexed position after fusion
}

// Fuser combines the two retrieval legs with Reciprocal Rank Fusion.
type Fuser struct {
	K int
}

// NewFuser creates a fuser with the default smoothing constant.
func NewFuser() *Fuser {
	return &Fuser{K: DefaultRRFK}
}

// Fuse sums weight/(k+rank) per chunk id across both legs and sorts
// descending. Ties keep first-seen order: vector records in leg order,
// then BM25-only records in leg order, which makes the output
// deterministic. With one weight zero the other leg's order is preserved.
func (f *Fuser) Fuse(vector, lexical []Candidate, vectorWeight, bm25Weight float64) []Fused {
	if len(vector) == 0 && len(lexical) == 0 {
		return nil
	}

	byID := make(map[string]*Fused, len(vector)+len(lexical))
	order := make([]string, 0, len(vector)+len(lexical))

	add := func(c Candidate, weight float64) {
		rec, ok := byID[c.ID]
		if !ok {
			rec = &Fused{Candidate: c}
			byID[c.ID] = rec
			order = append(order, c.ID)
		}
		rec.RRFScore += weight / float64(f.K+c.Rank)
	}
	for _, c := range vector {
		add(c, vectorWeight)
	}
	for _, c := range lexical {
		add(c, bm25Weight)
	}

	fused := make([]Fused, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].RRFScore > fused[j].RRFScore
	})
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}
