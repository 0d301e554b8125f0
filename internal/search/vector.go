package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/telemetry"
	"github.com/localrivet/researchmemory/internal/vector"
)

// VectorSearcher ranks records by embedding similarity to a query. An
// approximate index can replace the linear implementation behind it.
type VectorSearcher interface {
	// Enabled reports whether an embedder is configured at all.
	Enabled() bool

	// Search returns up to limit records by descending similarity. A nil
	// embedder yields an empty result. An embedder that cannot embed the
	// query yields an error matching errortypes.ErrEmbedderUnavailable.
	Search(ctx context.Context, query string, filter memorystore.Filter, limit int) ([]Ranked, error)
}

// LinearVectorSearcher scans every candidate embedding in the store.
type LinearVectorSearcher struct {
	store        memorystore.MemoryStore
	embedder     vector.Embedder
	embedTimeout time.Duration
	scanTimeout  time.Duration
	logger       *slog.Logger
	metrics      *telemetry.MetricsCollector
}

// NewLinearVectorSearcher creates a linear-scan searcher. embedder may be nil,
// which disables vector search. Zero timeouts mean no extra deadline.
func NewLinearVectorSearcher(store memorystore.MemoryStore, embedder vector.Embedder, embedTimeout, scanTimeout time.Duration, logger *slog.Logger, metrics *telemetry.MetricsCollector) *LinearVectorSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinearVectorSearcher{
		store:        store,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		scanTimeout:  scanTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// Enabled reports whether an embedder is configured.
func (v *LinearVectorSearcher) Enabled() bool {
	return v.embedder != nil
}

type scored struct {
	id  int64
	sim float64
}

// Search embeds query under the embed deadline, scans candidates under the
// scan deadline and returns the top limit by similarity, ties by ascending id.
// Candidates whose dimension differs from the query are skipped.
func (v *LinearVectorSearcher) Search(ctx context.Context, query string, filter memorystore.Filter, limit int) ([]Ranked, error) {
	if v.embedder == nil || limit <= 0 {
		return []Ranked{}, nil
	}

	queryVec, err := v.embedQuery(ctx, query)
	if err != nil {
		return []Ranked{}, err
	}
	if len(queryVec) == 0 || vector.Magnitude(queryVec) == 0 {
		return []Ranked{}, nil
	}

	scanCtx := ctx
	if v.scanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, v.scanTimeout)
		defer cancel()
	}

	start := time.Now()
	var candidates []scored
	skipped := 0
	err = v.store.IterEmbeddings(scanCtx, filter, func(id int64, emb []float32) error {
		sim, err := vector.CosineSimilarity(queryVec, emb)
		if err != nil {
			skipped++
			return nil
		}
		candidates = append(candidates, scored{id: id, sim: sim})
		return nil
	})
	v.metrics.RecordTimer(telemetry.MetricVectorScanDuration, time.Since(start))
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		v.logger.Debug("Skipped embeddings with mismatched dimensions", "count", skipped, "query_dims", len(queryVec))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].id < candidates[j].id
	})

	ranked := make([]Ranked, 0, min(limit, len(candidates)))
	for _, c := range candidates {
		if len(ranked) == limit {
			break
		}
		rec, err := v.store.Get(ctx, c.id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		ranked = append(ranked, Ranked{
			Record: *rec,
			Rank:   len(ranked) + 1,
			Score:  c.sim,
		})
	}
	return ranked, nil
}

// embedQuery wraps embedder failures and timeouts in ErrEmbedderUnavailable.
func (v *LinearVectorSearcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embedCtx := ctx
	if v.embedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, v.embedTimeout)
		defer cancel()
	}

	vec, err := v.embedder.CreateEmbedding(embedCtx, query)
	if err != nil {
		v.logger.Warn("Query embedding unavailable, vector ranking empty", "provider", v.embedder.Name(), "error", err)
		return nil, errortypes.ExternalError(fmt.Errorf("%w: %w", errortypes.ErrEmbedderUnavailable, err), "failed to embed query")
	}
	return vec, nil
}
