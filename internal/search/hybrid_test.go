package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/telemetry"
	"github.com/localrivet/researchmemory/internal/vector"
)

func newTestStore(t *testing.T) *memorystore.SQLiteMemoryStore {
	t.Helper()

	store := memorystore.NewSQLiteMemoryStore(2, nil)
	if err := store.Initialize(filepath.Join(t.TempDir(), "memory.db")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func put(t *testing.T, s memorystore.MemoryStore, r memorystore.Record) int64 {
	t.Helper()

	if r.Type == "" {
		r.Type = memorystore.TypeDecision
	}
	id, err := s.Put(context.Background(), &r)
	if err != nil {
		t.Fatalf("Put(%q) error = %v", r.Title, err)
	}
	return id
}

// stubVector returns a fixed ranking and counts calls.
type stubVector struct {
	enabled bool
	results []Ranked
	err     error
	calls   int
}

func (s *stubVector) Enabled() bool { return s.enabled }

func (s *stubVector) Search(ctx context.Context, query string, filter memorystore.Filter, limit int) ([]Ranked, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) > limit {
		return s.results[:limit], nil
	}
	return s.results, nil
}

// failingTextStore fails every text search.
type failingTextStore struct {
	memorystore.MemoryStore
	err error
}

func (f failingTextStore) SearchText(ctx context.Context, query string, filter memorystore.Filter, limit int) ([]memorystore.Record, error) {
	return nil, f.err
}

func TestHybridSearchDecisionIntentExample(t *testing.T) {
	store := newTestStore(t)
	lexID := put(t, store, memorystore.Record{Title: "Sampling", Content: "Purposive sampling strategy for interviews"})
	vecID := put(t, store, memorystore.Record{Title: "Recruitment", Content: "How participants were chosen"})

	vecRec, err := store.Get(context.Background(), vecID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	vec := &stubVector{enabled: true, results: []Ranked{{Record: *vecRec, Rank: 1, Score: 0.9}}}

	h := NewHybridSearcher(NewLexicalSearcher(store), vec)
	results, err := h.Search(context.Background(), Request{Query: "sampling strategy", TopK: 10, Intent: IntentDecision})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Record.ID != vecID || results[1].Record.ID != lexID {
		t.Errorf("ids = %v, want [%d %d]", resultIDs(results), vecID, lexID)
	}
	if !almostEqual(results[0].CombinedScore, 0.7/61) {
		t.Errorf("vector-only score = %v, want %v", results[0].CombinedScore, 0.7/61)
	}
	if !almostEqual(results[1].CombinedScore, 0.3/61) {
		t.Errorf("lexical-only score = %v, want %v", results[1].CombinedScore, 0.3/61)
	}
	if results[0].Similarity != 0.9 {
		t.Errorf("similarity = %v, want 0.9", results[0].Similarity)
	}
}

func TestHybridSearchWithoutVectorIsLexical(t *testing.T) {
	store := newTestStore(t)
	first := put(t, store, memorystore.Record{Title: "Coding", Content: "thematic coding thematic analysis"})
	second := put(t, store, memorystore.Record{Title: "Other", Content: "analysis of survey data"})

	metrics := telemetry.NewMetricsCollector()
	for _, vec := range []VectorSearcher{nil, &stubVector{enabled: false}} {
		h := NewHybridSearcher(NewLexicalSearcher(store), vec, WithMetrics(metrics))

		if h.VectorEnabled() {
			t.Fatal("VectorEnabled() = true, want false")
		}
		w := h.EffectiveWeights(Request{Intent: IntentDecision})
		if w.Lexical != 1 || w.Vector != 0 {
			t.Errorf("EffectiveWeights() = %v, want {1 0}", w)
		}

		results, err := h.Search(context.Background(), Request{Query: "thematic analysis", Intent: IntentDecision})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 2 || results[0].Record.ID != first || results[1].Record.ID != second {
			t.Fatalf("ids = %v, want [%d %d]", resultIDs(results), first, second)
		}
		if !almostEqual(results[0].CombinedScore, 1.0/61) {
			t.Errorf("score = %v, want %v", results[0].CombinedScore, 1.0/61)
		}
		if results[0].VectorRank != 0 {
			t.Errorf("VectorRank = %d, want 0", results[0].VectorRank)
		}
	}

	if got := metrics.GetCounter(telemetry.MetricSearchVectorDisabled); got != 2 {
		t.Errorf("vector disabled counter = %d, want 2", got)
	}
}

func TestHybridSearchUnavailableEmbedderScoresLexically(t *testing.T) {
	store := newTestStore(t)
	first := put(t, store, memorystore.Record{Title: "Coding", Content: "thematic coding thematic analysis", Embedding: []float32{1, 0}})
	second := put(t, store, memorystore.Record{Title: "Other", Content: "analysis of survey data", Embedding: []float32{0, 1}})

	tests := []struct {
		name    string
		intent  Intent
		weights *Weights
	}{
		{"general intent", IntentGeneral, nil},
		{"decision intent", IntentDecision, nil},
		{"vector only weights", IntentGeneral, &Weights{Lexical: 0, Vector: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := telemetry.NewMetricsCollector()
			vec := NewLinearVectorSearcher(store, failingEmbedder{err: errors.New("provider down")}, 0, 0, nil, nil)
			h := NewHybridSearcher(NewLexicalSearcher(store), vec, WithMetrics(metrics))

			results, err := h.Search(context.Background(), Request{Query: "thematic analysis", Intent: tt.intent, Weights: tt.weights})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(results) != 2 || results[0].Record.ID != first || results[1].Record.ID != second {
				t.Fatalf("ids = %v, want [%d %d]", resultIDs(results), first, second)
			}
			if !almostEqual(results[0].CombinedScore, 1.0/61) || !almostEqual(results[1].CombinedScore, 1.0/62) {
				t.Errorf("scores = %v, %v; want %v, %v", results[0].CombinedScore, results[1].CombinedScore, 1.0/61, 1.0/62)
			}
			if got := metrics.GetCounter(telemetry.MetricSearchEmbedderUnavailable); got != 1 {
				t.Errorf("embedder unavailable counter = %d, want 1", got)
			}
			if got := metrics.GetCounter(telemetry.MetricSearchVectorDegraded); got != 0 {
				t.Errorf("vector degraded counter = %d, want 0", got)
			}
		})
	}
}

func TestHybridSearchExplicitWeightsOverrideIntent(t *testing.T) {
	store := newTestStore(t)
	put(t, store, memorystore.Record{Title: "Coding", Content: "grounded theory coding"})

	vec := &stubVector{enabled: true}
	h := NewHybridSearcher(NewLexicalSearcher(store), vec)

	req := Request{Query: "coding", Intent: IntentDecision, Weights: &Weights{Lexical: 3, Vector: 1}}
	if w := h.EffectiveWeights(req); !almostEqual(w.Lexical, 0.75) || !almostEqual(w.Vector, 0.25) {
		t.Errorf("EffectiveWeights() = %v, want {0.75 0.25}", w)
	}

	req.Weights = &Weights{Lexical: 1, Vector: 0}
	if _, err := h.Search(context.Background(), req); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if vec.calls != 0 {
		t.Errorf("vector searcher called %d times with zero weight", vec.calls)
	}
}

func TestHybridSearchDegradesOnOneFailure(t *testing.T) {
	store := newTestStore(t)
	lexID := put(t, store, memorystore.Record{Title: "Saturation", Content: "data saturation reached"})
	vecID := put(t, store, memorystore.Record{Title: "Depth", Content: "interview depth"})
	vecRec, _ := store.Get(context.Background(), vecID)

	boom := errors.New("boom")

	t.Run("vector fails", func(t *testing.T) {
		metrics := telemetry.NewMetricsCollector()
		h := NewHybridSearcher(NewLexicalSearcher(store), &stubVector{enabled: true, err: boom}, WithMetrics(metrics))

		results, err := h.Search(context.Background(), Request{Query: "saturation"})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 1 || results[0].Record.ID != lexID {
			t.Errorf("ids = %v, want [%d]", resultIDs(results), lexID)
		}
		if got := metrics.GetCounter(telemetry.MetricSearchVectorDegraded); got != 1 {
			t.Errorf("vector degraded counter = %d, want 1", got)
		}
	})

	t.Run("lexical fails", func(t *testing.T) {
		metrics := telemetry.NewMetricsCollector()
		lex := NewLexicalSearcher(failingTextStore{MemoryStore: store, err: errortypes.DatabaseError(boom, "search failed")})
		vec := &stubVector{enabled: true, results: []Ranked{{Record: *vecRec, Rank: 1, Score: 0.5}}}
		h := NewHybridSearcher(lex, vec, WithMetrics(metrics))

		results, err := h.Search(context.Background(), Request{Query: "saturation"})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 1 || results[0].Record.ID != vecID {
			t.Errorf("ids = %v, want [%d]", resultIDs(results), vecID)
		}
		if got := metrics.GetCounter(telemetry.MetricSearchLexicalDegraded); got != 1 {
			t.Errorf("lexical degraded counter = %d, want 1", got)
		}
	})

	t.Run("both fail", func(t *testing.T) {
		metrics := telemetry.NewMetricsCollector()
		lex := NewLexicalSearcher(failingTextStore{MemoryStore: store, err: errortypes.DatabaseError(boom, "search failed")})
		h := NewHybridSearcher(lex, &stubVector{enabled: true, err: boom}, WithMetrics(metrics))

		if _, err := h.Search(context.Background(), Request{Query: "saturation"}); err == nil {
			t.Fatal("Search() error = nil, want error")
		}
		if got := metrics.GetCounter(telemetry.MetricSearchFailures); got != 1 {
			t.Errorf("failure counter = %d, want 1", got)
		}
	})

	t.Run("lexical fails without vector", func(t *testing.T) {
		lex := NewLexicalSearcher(failingTextStore{MemoryStore: store, err: errortypes.DatabaseError(boom, "search failed")})
		h := NewHybridSearcher(lex, nil)

		if _, err := h.Search(context.Background(), Request{Query: "saturation"}); err == nil {
			t.Fatal("Search() error = nil, want error")
		}
	})

	t.Run("storage unavailable", func(t *testing.T) {
		lex := NewLexicalSearcher(failingTextStore{MemoryStore: store, err: errortypes.StorageUnavailableError(boom, "disk gone")})
		vec := &stubVector{enabled: true, results: []Ranked{{Record: *vecRec, Rank: 1}}}
		h := NewHybridSearcher(lex, vec)

		_, err := h.Search(context.Background(), Request{Query: "saturation"})
		if !errortypes.IsStorageUnavailable(err) {
			t.Fatalf("Search() error = %v, want storage unavailable", err)
		}
	})
}

func TestHybridSearchBlankQueryAndTopK(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		put(t, store, memorystore.Record{Title: "Note", Content: "triangulation of sources"})
	}
	h := NewHybridSearcher(NewLexicalSearcher(store), nil, WithDefaultTopK(3))

	results, err := h.Search(context.Background(), Request{Query: "   "})
	if err != nil || len(results) != 0 {
		t.Errorf("Search(blank) = %v, %v; want empty, nil", results, err)
	}

	results, err = h.Search(context.Background(), Request{Query: "triangulation"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Errorf("default TopK: len(results) = %d, want 3", len(results))
	}

	results, err = h.Search(context.Background(), Request{Query: "triangulation", TopK: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("TopK=2: len(results) = %d, want 2", len(results))
	}
	// Equal lexical scores order newest first.
	if results[0].Record.ID < results[1].Record.ID {
		t.Errorf("ids = %v, want descending", resultIDs(results))
	}
}

func TestHybridSearchFilter(t *testing.T) {
	store := newTestStore(t)
	put(t, store, memorystore.Record{Namespace: "decisions.CP_A", Title: "A", Content: "coding scheme"})
	want := put(t, store, memorystore.Record{Namespace: "notes", Type: memorystore.TypeNote, Title: "B", Content: "coding scheme"})

	h := NewHybridSearcher(NewLexicalSearcher(store), nil)
	results, err := h.Search(context.Background(), Request{Query: "coding", Filter: memorystore.Filter{NamespacePrefix: "notes"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != want {
		t.Errorf("ids = %v, want [%d]", resultIDs(results), want)
	}
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Initialize() error { return nil }
func (f failingEmbedder) Dimensions() int   { return 8 }
func (f failingEmbedder) Name() string      { return "failing" }
func (f failingEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

func embed(t *testing.T, e vector.Embedder, text string) []float32 {
	t.Helper()

	v, err := e.CreateEmbedding(context.Background(), text)
	if err != nil {
		t.Fatalf("CreateEmbedding(%q) error = %v", text, err)
	}
	return v
}

func TestLinearVectorSearcher(t *testing.T) {
	store := newTestStore(t)
	emb := vector.NewHashingEmbedder(vector.DefaultEmbeddingDimensions)

	texts := []string{
		"interviews with teachers",
		"survey of student attendance",
		"interviews with school teachers about workload",
	}
	var recIDs []int64
	for _, text := range texts {
		recIDs = append(recIDs, put(t, store, memorystore.Record{Title: "t", Content: text, Embedding: embed(t, emb, text)}))
	}
	put(t, store, memorystore.Record{Title: "no vector", Content: "interviews with teachers"})
	put(t, store, memorystore.Record{Title: "short vector", Content: "interviews", Embedding: []float32{1, 0}})

	metrics := telemetry.NewMetricsCollector()
	v := NewLinearVectorSearcher(store, emb, time.Second, time.Second, nil, metrics)
	if !v.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}

	results, err := v.Search(context.Background(), "interviews with teachers", memorystore.Filter{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3 (records without matching vectors skipped)", len(results))
	}
	if results[0].Record.ID != recIDs[0] {
		t.Errorf("best match = %d, want %d", results[0].Record.ID, recIDs[0])
	}
	for i, r := range results {
		if r.Rank != i+1 {
			t.Errorf("results[%d].Rank = %d, want %d", i, r.Rank, i+1)
		}
		if i > 0 && r.Score > results[i-1].Score {
			t.Errorf("scores not descending: %v after %v", r.Score, results[i-1].Score)
		}
	}
	if metrics.GetTimerCount(telemetry.MetricVectorScanDuration) != 1 {
		t.Error("scan duration not recorded")
	}

	limited, err := v.Search(context.Background(), "interviews with teachers", memorystore.Filter{}, 1)
	if err != nil {
		t.Fatalf("Search(limit=1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestLinearVectorSearcherTiesByAscendingID(t *testing.T) {
	store := newTestStore(t)
	same := []float32{0.6, 0.8}
	a := put(t, store, memorystore.Record{Title: "a", Content: "x", Embedding: same})
	b := put(t, store, memorystore.Record{Title: "b", Content: "x", Embedding: same})

	v := NewLinearVectorSearcher(store, constEmbedder{vec: []float32{1, 0}}, 0, 0, nil, nil)
	results, err := v.Search(context.Background(), "q", memorystore.Filter{}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 || results[0].Record.ID != a || results[1].Record.ID != b {
		t.Errorf("ids = %v, want [%d %d]", results, a, b)
	}
}

func TestLinearVectorSearcherUnavailableEmbedder(t *testing.T) {
	store := newTestStore(t)
	put(t, store, memorystore.Record{Title: "a", Content: "x", Embedding: []float32{1, 0}})

	tests := []struct {
		name            string
		embedder        vector.Embedder
		enabled         bool
		wantUnavailable bool
	}{
		{"nil embedder", nil, false, false},
		{"failing embedder", failingEmbedder{err: errors.New("provider down")}, true, true},
		{"zero vector", constEmbedder{vec: []float32{0, 0}}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewLinearVectorSearcher(store, tt.embedder, 0, 0, nil, nil)
			if v.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", v.Enabled(), tt.enabled)
			}
			results, err := v.Search(context.Background(), "anything", memorystore.Filter{}, 5)
			if tt.wantUnavailable {
				if !errortypes.IsEmbedderUnavailable(err) {
					t.Errorf("Search() error = %v, want embedder unavailable", err)
				}
			} else if err != nil {
				t.Fatalf("Search() error = %v, want nil", err)
			}
			if len(results) != 0 {
				t.Errorf("len(results) = %d, want 0", len(results))
			}
		})
	}
}

type constEmbedder struct{ vec []float32 }

func (c constEmbedder) Initialize() error { return nil }
func (c constEmbedder) Dimensions() int   { return len(c.vec) }
func (c constEmbedder) Name() string      { return "const" }
func (c constEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return c.vec, nil
}
