package ensemble

import (
	"math"
)

// MajorityVote returns the most frequent label. Among labels with the same
// count, the one that appears first in labels wins, so the outcome of a tie
// depends on registry order. It returns "" for no labels.
func MajorityVote(labels []string) string {
	counts := make(map[string]int, len(labels))
	for _, l := range labels {
		counts[l]++
	}

	winner, best := "", 0
	for _, l := range labels {
		if counts[l] > best {
			winner, best = l, counts[l]
		}
	}
	return winner
}

// argmax returns the index of the largest value; the first one wins ties.
func argmax(probs []float32) int {
	idx := 0
	for i, p := range probs {
		if p > probs[idx] {
			idx = i
		}
	}
	return idx
}

// confidence converts a probability into a percentage rounded to two
// decimal places and clamped to [0,100].
func confidence(p float32) float64 {
	pct := math.Round(float64(p)*100*100) / 100
	return math.Min(math.Max(pct, 0), 100)
}

func sanitizeProbs(probs []float32) []float32 {
	out := make([]float32, len(probs))
	for i, p := range probs {
		f := float64(p)
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			out[i] = p
		}
	}
	return out
}
