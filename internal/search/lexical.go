package search

import (
	"context"

	"github.com/localrivet/researchmemory/internal/memorystore"
)

// LexicalSearcher ranks records with the store's full-text index.
type LexicalSearcher struct {
	store memorystore.MemoryStore
}

// NewLexicalSearcher creates a LexicalSearcher over store.
func NewLexicalSearcher(store memorystore.MemoryStore) *LexicalSearcher {
	return &LexicalSearcher{store: store}
}

// Search returns the store's text ranking annotated with 1-based ranks and
// a 1/rank score.
func (l *LexicalSearcher) Search(ctx context.Context, query string, filter memorystore.Filter, limit int) ([]Ranked, error) {
	records, err := l.store.SearchText(ctx, query, filter, limit)
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, len(records))
	for i, r := range records {
		ranked[i] = Ranked{
			Record: r,
			Rank:   i + 1,
			Score:  1.0 / float64(i+1),
		}
	}
	return ranked, nil
}
