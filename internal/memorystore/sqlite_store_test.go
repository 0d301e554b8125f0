package memorystore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/localrivet/researchmemory/internal/errortypes"
)

func newTestStore(t *testing.T) *SQLiteMemoryStore {
	t.Helper()

	store := NewSQLiteMemoryStore(2, nil)
	if err := store.Initialize(filepath.Join(t.TempDir(), "nested", "memory.db")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustPut(t *testing.T, s MemoryStore, r Record) int64 {
	t.Helper()

	id, err := s.Put(context.Background(), &r)
	if err != nil {
		t.Fatalf("Put(%q) error = %v", r.Title, err)
	}
	return id
}

func ids(records []Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestPutAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Record{
		ExternalID:  "CP_METHODOLOGY_1",
		Type:        TypeDecision,
		Namespace:   "decisions.CP_METHODOLOGY",
		Title:       "CP_METHODOLOGY",
		Content:     "Selected: Mixed methods",
		Summary:     "Mixed methods",
		Embedding:   []float32{0.5, -0.25, 1},
		Tags:        []string{"decision", "CP_METHODOLOGY"},
		Priority:    8,
		ProjectName: "thesis",
		SessionID:   "s-1",
		CreatedAt:   created,
	}

	id, err := store.Put(ctx, &in)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if id <= 0 || in.ID != id {
		t.Fatalf("Put() id = %d, record id = %d", id, in.ID)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want record")
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !reflect.DeepEqual(got.Embedding, in.Embedding) || !reflect.DeepEqual(got.Tags, in.Tags) {
		t.Errorf("Get() = %+v, want embedding and tags of %+v", got, in)
	}
	if got.ExternalID != in.ExternalID || got.Namespace != in.Namespace || got.Priority != 8 ||
		got.ProjectName != "thesis" || got.SessionID != "s-1" || got.Summary != "Mixed methods" {
		t.Errorf("Get() fields = %+v", got)
	}

	second := mustPut(t, store, Record{Type: TypeNote, Content: "later"})
	if second <= id {
		t.Errorf("ids not monotonic: %d then %d", id, second)
	}

	missing, err := store.Get(ctx, 9999)
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestPutValidation(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Put(context.Background(), nil); !errortypes.IsValidationError(err) {
		t.Errorf("Put(nil) error = %v, want validation error", err)
	}
	if _, err := store.Put(context.Background(), &Record{Content: "x"}); !errortypes.IsValidationError(err) {
		t.Errorf("Put(no type) error = %v, want validation error", err)
	}
}

func TestPutConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := mustPut(t, store, Record{ExternalID: "d1", Type: TypeDecision, Content: "one"})

	_, err := store.Put(ctx, &Record{ExternalID: "d1", Type: TypeDecision, Content: "dup"})
	if !errortypes.IsConflict(err) {
		t.Fatalf("duplicate Put() error = %v, want conflict", err)
	}
	if n, _ := store.Count(ctx, Filter{}); n != 1 {
		t.Errorf("Count() = %d after rejected duplicate, want 1", n)
	}

	// Records without an external id never conflict.
	mustPut(t, store, Record{Type: TypeNote, Content: "a"})
	mustPut(t, store, Record{Type: TypeNote, Content: "a"})

	// Once archived, the key may be bound again.
	if err := store.Archive(ctx, first); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	again := mustPut(t, store, Record{ExternalID: "d1", Type: TypeDecision, Content: "two"})

	found, err := store.FindByExternalID(ctx, "d1")
	if err != nil || found == nil || found.ID != again {
		t.Errorf("FindByExternalID() = %+v, %v; want active record %d", found, err, again)
	}
}

func TestFindByExternalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if r, err := store.FindByExternalID(ctx, "never"); r != nil || err != nil {
		t.Errorf("FindByExternalID(never) = %v, %v; want nil, nil", r, err)
	}
	if r, err := store.FindByExternalID(ctx, ""); r != nil || err != nil {
		t.Errorf("FindByExternalID(\"\") = %v, %v; want nil, nil", r, err)
	}

	id := mustPut(t, store, Record{ExternalID: "d9", Type: TypeDecision, Content: "x"})
	if err := store.Archive(ctx, id); err != nil {
		t.Fatal(err)
	}

	r, err := store.FindByExternalID(ctx, "d9")
	if err != nil || r == nil || r.ID != id || r.Status != StatusArchived {
		t.Errorf("FindByExternalID(archived) = %+v, %v; want archived record %d", r, err, id)
	}
}

func TestSearchText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sample := mustPut(t, store, Record{Type: TypeDecision, Namespace: "decisions.CP_SAMPLE", Title: "sample", Content: "sample size of forty participants"})
	method := mustPut(t, store, Record{Type: TypeDecision, Namespace: "decisions.CP_METHOD", Title: "method", Content: "mixed methods design"})
	note := mustPut(t, store, Record{Type: TypeNote, Namespace: "decisionsX", Title: "note", Content: "sample notes"})
	archived := mustPut(t, store, Record{Type: TypeDecision, Namespace: "decisions", Content: "sample archived"})
	if err := store.Archive(ctx, archived); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		query  string
		filter Filter
		want   []int64
	}{
		{"single term", "participants", Filter{}, []int64{sample}},
		{"terms are OR-ed", "participants mixed", Filter{}, []int64{sample, method}},
		{"archived excluded", "archived", Filter{}, []int64{}},
		{"titles are not indexed", "method", Filter{}, []int64{}},
		{"namespace segment", "sample", Filter{NamespacePrefix: "decisions"}, []int64{sample}},
		{"namespace exact", "sample", Filter{NamespacePrefix: "decisionsX"}, []int64{note}},
		{"type filter", "sample", Filter{Type: TypeNote}, []int64{note}},
		{"blank query", "   ", Filter{}, []int64{}},
		{"fts syntax is quoted", `methods" AND (NEAR`, Filter{}, []int64{method}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.SearchText(ctx, tt.query, tt.filter, 10)
			if err != nil {
				t.Fatalf("SearchText() error = %v", err)
			}
			gotIDs := ids(got)
			if tt.name == "terms are OR-ed" {
				// Both match once; order is bm25, so compare as a set.
				if len(gotIDs) != 2 {
					t.Errorf("SearchText() = %v, want both %v", gotIDs, tt.want)
				}
				return
			}
			if !reflect.DeepEqual(gotIDs, tt.want) {
				t.Errorf("SearchText() = %v, want %v", gotIDs, tt.want)
			}
		})
	}
}

func TestSearchTextTieBreakAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustPut(t, store, Record{Type: TypeNote, Content: "identical text"})
	b := mustPut(t, store, Record{Type: TypeNote, Content: "identical text"})
	c := mustPut(t, store, Record{Type: TypeNote, Content: "identical text"})

	got, err := store.SearchText(ctx, "identical", Filter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{c, b, a}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("tie order = %v, want %v (descending id)", ids(got), want)
	}

	got, _ = store.SearchText(ctx, "identical", Filter{}, 2)
	if len(got) != 2 {
		t.Errorf("limit 2 returned %d records", len(got))
	}
}

func TestIterEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	withEmb := mustPut(t, store, Record{Type: TypeDecision, Namespace: "decisions.A", Embedding: []float32{1, 0}})
	mustPut(t, store, Record{Type: TypeDecision, Namespace: "decisions.B"})
	other := mustPut(t, store, Record{Type: TypeNote, Namespace: "notes", Embedding: []float32{0, 1}})
	archived := mustPut(t, store, Record{Type: TypeDecision, Namespace: "decisions.C", Embedding: []float32{1, 1}})
	if err := store.Archive(ctx, archived); err != nil {
		t.Fatal(err)
	}

	collect := func(f Filter) []int64 {
		var got []int64
		err := store.IterEmbeddings(ctx, f, func(id int64, emb []float32) error {
			if len(emb) != 2 {
				t.Errorf("embedding for %d has %d dims", id, len(emb))
			}
			got = append(got, id)
			return nil
		})
		if err != nil {
			t.Fatalf("IterEmbeddings() error = %v", err)
		}
		return got
	}

	if got := collect(Filter{}); !reflect.DeepEqual(got, []int64{withEmb, other}) {
		t.Errorf("IterEmbeddings(all) = %v", got)
	}
	// Restartable: a second scan sees the same rows.
	if got := collect(Filter{}); !reflect.DeepEqual(got, []int64{withEmb, other}) {
		t.Errorf("second IterEmbeddings(all) = %v", got)
	}
	if got := collect(Filter{NamespacePrefix: "decisions"}); !reflect.DeepEqual(got, []int64{withEmb}) {
		t.Errorf("IterEmbeddings(decisions) = %v", got)
	}

	stop := errors.New("stop")
	calls := 0
	err := store.IterEmbeddings(ctx, Filter{}, func(int64, []float32) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("IterEmbeddings() = %v after %d calls, want stop after 1", err, calls)
	}
}

func TestArchiveAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := mustPut(t, store, Record{Type: TypeDecision, Embedding: []float32{1}})
	mustPut(t, store, Record{Type: TypeNote})
	mustPut(t, store, Record{Type: TypeContext})

	if err := store.Archive(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := store.Archive(ctx, d); err != nil {
		t.Errorf("second Archive() error = %v, want nil", err)
	}
	if err := store.Archive(ctx, 4242); !errortypes.IsNotFound(err) {
		t.Errorf("Archive(missing) error = %v, want not found", err)
	}

	got, _ := store.Get(ctx, d)
	if got == nil || got.Status != StatusArchived {
		t.Errorf("Get(archived) = %+v, want archived record", got)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Active != 2 || stats.Archived != 1 || stats.WithEmbeddings != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.ByType[TypeNote] != 1 || stats.ByType[TypeDecision] != 0 {
		t.Errorf("Stats().ByType = %v", stats.ByType)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx := context.Background()
	if _, err := store.Put(ctx, &Record{Type: TypeNote}); !errortypes.IsStorageUnavailable(err) {
		t.Errorf("Put() on closed store error = %v, want storage unavailable", err)
	}
	if _, err := store.SearchText(ctx, "x", Filter{}, 5); !errortypes.IsStorageUnavailable(err) {
		t.Errorf("SearchText() on closed store error = %v, want storage unavailable", err)
	}
	if _, err := store.FindByExternalID(ctx, "x"); !errortypes.IsStorageUnavailable(err) {
		t.Errorf("FindByExternalID() on closed store error = %v, want storage unavailable", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	first := NewSQLiteMemoryStore(1, nil)
	if err := first.Initialize(path); err != nil {
		t.Fatal(err)
	}
	id := mustPut(t, first, Record{ExternalID: "k", Type: TypeNote, Content: "persisted words"})
	first.Close()

	second := NewSQLiteMemoryStore(1, nil)
	if err := second.Initialize(path); err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	got, err := second.SearchText(ctx, "persisted", Filter{}, 5)
	if err != nil || len(got) != 1 || got[0].ID != id {
		t.Errorf("SearchText() after reopen = %v, %v", got, err)
	}
}
