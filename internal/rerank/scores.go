package rerank

import (
	"math"
	"sort"
)

// amplificationFactor steepens logit differences before rescaling. The
// adaptive relevance thresholds downstream are tuned against scores produced
// with exactly this constant.
const amplificationFactor = 100.0

// degenerateScore is assigned uniformly when the logits carry no ordering
// signal (identical values, a single candidate, or non-finite input).
const degenerateScore = 5.0

// normalizeScores maps raw cross-encoder logits onto the [0, 10] scale.
//
// Logits are shifted by their maximum before exponentiation, so the largest
// amplified value is exactly 1 and exp cannot overflow for any input. The
// shift cancels out in the min-max rescaling.
func normalizeScores(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := math.Inf(-1)
	for _, r := range logits {
		if r > maxLogit {
			maxLogit = r
		}
	}

	amplified := make([]float64, len(logits))
	finite := true
	for i, r := range logits {
		amplified[i] = math.Exp((r - maxLogit) * amplificationFactor)
		if math.IsInf(amplified[i], 0) || math.IsNaN(amplified[i]) {
			finite = false
		}
	}

	scores := make([]float64, len(logits))
	minAmp, maxAmp := amplified[0], amplified[0]
	for _, a := range amplified[1:] {
		if a < minAmp {
			minAmp = a
		}
		if a > maxAmp {
			maxAmp = a
		}
	}

	if !finite || maxAmp <= minAmp {
		for i := range scores {
			scores[i] = degenerateScore
		}
		return scores
	}

	for i, a := range amplified {
		scores[i] = (a - minAmp) / (maxAmp - minAmp) * 10
	}
	return scores
}

// rankResults builds the scored result list for documents with the given raw
// logits, sorted by score descending and truncated to topK. The sort is
// stable, so equal scores keep their input order.
func rankResults(documents []string, logits []float64, topK int) []Result {
	scores := normalizeScores(logits)

	results := make([]Result, len(documents))
	for i := range documents {
		results[i] = Result{
			Index:    i,
			Score:    scores[i],
			RawLogit: logits[i],
			Document: documents[i],
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
