package engine

import "sort"

// DefaultMaxResults bounds every result list returned to a caller.
const DefaultMaxResults = 5

// Rank orders candidate scores by score descending and truncates to limit.
// The sort is stable and uses no secondary key, so ties keep their original
// relative order. The input slice is not modified.
func Rank(scores []*CandidateScore, limit int) []*CandidateScore {
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	ranked := make([]*CandidateScore, len(scores))
	copy(ranked, scores)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked
}

// FilterByConfidence keeps only scores strictly above min. A score equal to
// the threshold is excluded.
func FilterByConfidence(scores []*CandidateScore, min float64) []*CandidateScore {
	filtered := make([]*CandidateScore, 0, len(scores))
	for _, score := range scores {
		if score.Score > min {
			filtered = append(filtered, score)
		}
	}

	return filtered
}
