package search

import (
	"math"
	"testing"

	"github.com/localrivet/researchmemory/internal/memorystore"
)

func ranked(ids ...int64) []Ranked {
	out := make([]Ranked, len(ids))
	for i, id := range ids {
		out[i] = Ranked{Record: memorystore.Record{ID: id}, Rank: i + 1, Score: 1.0 / float64(i+1)}
	}
	return out
}

func resultIDs(results []Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.Record.ID
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalizeWeights(t *testing.T) {
	tests := []struct {
		name string
		in   Weights
		want Weights
	}{
		{"already normalized", Weights{0.3, 0.7}, Weights{0.3, 0.7}},
		{"scaled", Weights{2, 6}, Weights{0.25, 0.75}},
		{"all zero", Weights{0, 0}, Weights{0.5, 0.5}},
		{"negative vector", Weights{1, -3}, Weights{1, 0}},
		{"both negative", Weights{-1, -1}, Weights{0.5, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeWeights(tt.in)
			if !almostEqual(got.Lexical, tt.want.Lexical) || !almostEqual(got.Vector, tt.want.Vector) {
				t.Errorf("NormalizeWeights(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWeightsFor(t *testing.T) {
	tests := []struct {
		intent Intent
		want   Weights
	}{
		{IntentCitation, Weights{0.7, 0.3}},
		{IntentDecision, Weights{0.3, 0.7}},
		{IntentMethodology, Weights{0.5, 0.5}},
		{IntentGeneral, Weights{0.5, 0.5}},
		{"", Weights{0.5, 0.5}},
		{"  Decision ", Weights{0.3, 0.7}},
		{"unknown", Weights{0.5, 0.5}},
	}

	for _, tt := range tests {
		if got := WeightsFor(tt.intent); got != tt.want {
			t.Errorf("WeightsFor(%q) = %v, want %v", tt.intent, got, tt.want)
		}
	}
}

func TestFuseDecisionIntentExample(t *testing.T) {
	// Lexical-only match at rank 1 (id 1) and vector-only match at rank 1 (id 2).
	results := Fuse(ranked(1), ranked(2), WeightsFor(IntentDecision), DefaultRRFK)

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Record.ID != 2 {
		t.Errorf("first result = %d, want vector-only record 2", results[0].Record.ID)
	}
	if !almostEqual(results[0].CombinedScore, 0.7/61) {
		t.Errorf("vector-only score = %v, want %v", results[0].CombinedScore, 0.7/61)
	}
	if !almostEqual(results[1].CombinedScore, 0.3/61) {
		t.Errorf("lexical-only score = %v, want %v", results[1].CombinedScore, 0.3/61)
	}
	if results[0].LexicalRank != 0 || results[0].VectorRank != 1 {
		t.Errorf("vector-only ranks = (%d, %d), want (0, 1)", results[0].LexicalRank, results[0].VectorRank)
	}
	if results[1].LexicalRank != 1 || results[1].VectorRank != 0 {
		t.Errorf("lexical-only ranks = (%d, %d), want (1, 0)", results[1].LexicalRank, results[1].VectorRank)
	}
}

func TestFuseCombinesBothRankings(t *testing.T) {
	w := Weights{Lexical: 0.5, Vector: 0.5}
	results := Fuse(ranked(10, 20), ranked(20, 30), w, 60)

	got := resultIDs(results)
	want := []int64{20, 10, 30}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}

	both := 0.5/62 + 0.5/61
	if !almostEqual(results[0].CombinedScore, both) {
		t.Errorf("score of record in both rankings = %v, want %v", results[0].CombinedScore, both)
	}
}

func TestFuseTiesBreakByDescendingID(t *testing.T) {
	// Equal weights, each record at rank 1 of one ranking.
	results := Fuse(ranked(3), ranked(7), Weights{0.5, 0.5}, 60)

	got := resultIDs(results)
	if len(got) != 2 || got[0] != 7 || got[1] != 3 {
		t.Errorf("ids = %v, want [7 3]", got)
	}
}

func TestFuseMonotonicInLexicalWeight(t *testing.T) {
	// Record 1 is lexical rank 1 and absent from the vector ranking. An absent
	// record always scores 0, so the gap is the record's own score.
	prev := -1.0
	for _, wl := range []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1} {
		results := Fuse(ranked(1), ranked(2), Weights{Lexical: wl, Vector: 1 - wl}, 60)

		var score float64
		for _, r := range results {
			if r.Record.ID == 1 {
				score = r.CombinedScore
			}
		}
		if score < prev {
			t.Fatalf("score at w_lex=%v is %v, below previous %v", wl, score, prev)
		}
		prev = score
	}
}

func TestFuseEmpty(t *testing.T) {
	if got := Fuse(nil, nil, Weights{0.5, 0.5}, 60); len(got) != 0 {
		t.Errorf("Fuse(nil, nil) = %v, want empty", got)
	}
}
