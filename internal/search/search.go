// Package search implements hybrid retrieval over the memory store: a lexical
// ranking, a vector ranking and their weighted Reciprocal Rank Fusion.
package search

import (
	"github.com/localrivet/researchmemory/internal/memorystore"
)

// Ranked is one entry of a single ranking. Rank is 1-based.
type Ranked struct {
	Record memorystore.Record
	Rank   int
	// Score is 1/Rank for lexical results and cosine similarity for vector results.
	Score float64
}

// Result is one fused search hit. It is built per query and never cached.
type Result struct {
	Record memorystore.Record `json:"record"`

	// LexicalRank and VectorRank are 0 when the record is absent from that ranking.
	LexicalRank int `json:"lexical_rank,omitempty"`
	VectorRank  int `json:"vector_rank,omitempty"`

	Similarity    float64 `json:"similarity,omitempty"`
	CombinedScore float64 `json:"combined_score"`
}
