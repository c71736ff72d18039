package search

// Thresholds are the adaptive relevance cutoffs derived from one rerank
// pass. The cutoffs scale with the best score and tighten as the score
// spread narrows: a wide spread keeps the leading cluster, a flat spread
// keeps effectively only the best result.
type Thresholds struct {
	Best    float64
	Worst   float64
	Range   float64
	High    float64
	General float64
}

// AdaptiveThresholds computes the cutoffs for a set of rerank scores.
func AdaptiveThresholds(scores []float64) Thresholds {
	if len(scores) == 0 {
		return Thresholds{}
	}

	t := Thresholds{Best: scores[0], Worst: scores[0]}
	for _, s := range scores[1:] {
		if s > t.Best {
			t.Best = s
		}
		if s < t.Worst {
			t.Worst = s
		}
	}
	t.Range = t.Best - t.Worst

	switch {
	case t.Range > 2.0:
		t.High = t.Best * 0.8
		t.General = t.Best * 0.4
	case t.Range > 1.0:
		t.High = t.Best * 0.7
		t.General = t.Best * 0.3
	default:
		t.High = t.Best - 0.1
		t.General = t.Best * 0.5
	}
	return t
}

// OffCorpus reports whether even the best score falls below the general
// cutoff, meaning the query has no real support in the corpus.
func (t Thresholds) OffCorpus() bool {
	return t.Best < t.General
}

// Keep reports whether a score survives the high cutoff.
func (t Thresholds) Keep(score float64) bool {
	return score >= t.High
}
