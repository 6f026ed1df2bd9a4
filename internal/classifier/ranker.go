package classifier

import (
	"fmt"
	"sort"
)

// DefaultTopK is the number of ranked predictions surfaced per inference.
const DefaultTopK = 3

// TopK pairs each score with its label by index and returns the k highest
// scoring pairs, sorted descending. Ties resolve to the lower original index,
// so the result is deterministic for a fixed input. Fewer than k entries are
// returned when the vocabulary is shorter than k; empty input yields an empty
// result.
func TopK(scores []float64, labels []string, k int) ([]ScoredLabel, error) {
	if len(scores) != len(labels) {
		return nil, fmt.Errorf("%w: %d scores vs %d labels", ErrVocabularyMismatch, len(scores), len(labels))
	}

	ranked := make([]ScoredLabel, len(scores))
	for i, s := range scores {
		ranked[i] = ScoredLabel{Label: labels[i], Score: s}
	}

	// SliceStable keeps equal scores in original index order.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if k < 0 {
		k = 0
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k], nil
}
