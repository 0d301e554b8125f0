package search

import (
	"sort"
)

// DefaultRRFK is the rank offset of Reciprocal Rank Fusion.
const DefaultRRFK = 60

// Weights scale the lexical and vector contributions to the fused score.
type Weights struct {
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
}

// NormalizeWeights scales w to sum to 1. Negative weights count as 0 and an
// all-zero pair becomes an even split.
func NormalizeWeights(w Weights) Weights {
	lex, vec := max(w.Lexical, 0), max(w.Vector, 0)
	sum := lex + vec
	if sum == 0 {
		return Weights{Lexical: 0.5, Vector: 0.5}
	}
	return Weights{Lexical: lex / sum, Vector: vec / sum}
}

// Fuse merges two rankings with weighted RRF:
//
//	combined = w.Lexical/(k+lexRank) + w.Vector/(k+vecRank)
//
// A record missing from a ranking gets no contribution from it. Results sort
// by descending combined score, ties by descending id.
func Fuse(lexical, vectorRanked []Ranked, w Weights, k float64) []Result {
	if k < 0 {
		k = DefaultRRFK
	}

	byID := make(map[int64]*Result, len(lexical)+len(vectorRanked))
	order := make([]int64, 0, len(lexical)+len(vectorRanked))

	entry := func(r Ranked) *Result {
		res, ok := byID[r.Record.ID]
		if !ok {
			res = &Result{Record: r.Record}
			byID[r.Record.ID] = res
			order = append(order, r.Record.ID)
		}
		return res
	}

	for _, r := range lexical {
		res := entry(r)
		res.LexicalRank = r.Rank
		res.CombinedScore += w.Lexical / (k + float64(r.Rank))
	}
	for _, r := range vectorRanked {
		res := entry(r)
		res.VectorRank = r.Rank
		res.Similarity = r.Score
		res.CombinedScore += w.Vector / (k + float64(r.Rank))
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		results = append(results, *byID[id])
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].Record.ID > results[j].Record.ID
	})
	return results
}
