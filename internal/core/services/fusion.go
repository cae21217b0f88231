package services

import "sort"

// DefaultRRFConstant is the rank offset of reciprocal rank fusion
const DefaultRRFConstant = 60

// FusedID is an ID with its fused score
type FusedID struct {
	ID    string
	Score float64
}

// FuseRRF merges ranked ID lists (best first) with reciprocal rank fusion:
// score(id) = Σ 1 / (rank + constant), ranks starting at 1.
// Ties are broken by ID so the result is deterministic for identical input.
func FuseRRF(constant int, lists ...[]string) []FusedID {
	if constant <= 0 {
		constant = DefaultRRFConstant
	}

	scores := make(map[string]float64)
	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for i, id := range list {
			if seen[id] {
				continue
			}
			seen[id] = true
			scores[id] += 1 / float64(i+1+constant)
		}
	}

	fused := make([]FusedID, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, FusedID{ID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}
