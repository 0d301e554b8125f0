package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Request is one hybrid search.
type Request struct {
	Query string
	TopK  int

	Filter memorystore.Filter

	// Intent picks preset weights. Weights, when set, override it.
	Intent  Intent
	Weights *Weights
}

// HybridSearcher fuses a lexical and a vector ranking.
type HybridSearcher struct {
	lexical *LexicalSearcher
	vector  VectorSearcher
	options Options
}

// NewHybridSearcher creates a HybridSearcher. vec may be nil, which is the
// same as a disabled vector searcher.
func NewHybridSearcher(lexical *LexicalSearcher, vec VectorSearcher, opts ...Option) *HybridSearcher {
	return &HybridSearcher{
		lexical: lexical,
		vector:  vec,
		options: NewOptions(opts...),
	}
}

// VectorEnabled reports whether the vector ranking takes part in searches.
func (h *HybridSearcher) VectorEnabled() bool {
	return h.vector != nil && h.vector.Enabled()
}

// EffectiveWeights returns the normalized weights a request will use.
// Without a vector ranking all weight moves to the lexical side.
func (h *HybridSearcher) EffectiveWeights(req Request) Weights {
	if !h.VectorEnabled() {
		return Weights{Lexical: 1, Vector: 0}
	}
	if req.Weights != nil {
		return NormalizeWeights(*req.Weights)
	}
	return NormalizeWeights(WeightsFor(req.Intent))
}

// Search runs both rankings concurrently, each to TopK×CandidateMultiplier
// candidates, and returns the TopK fused results. One failing ranking is
// logged and the other is used alone; both failing is an error. When the
// embedder cannot embed the query the weights become 1/0.
func (h *HybridSearcher) Search(ctx context.Context, req Request) (results []Result, err error) {
	m := h.options.Metrics
	m.IncrementCounter(telemetry.MetricSearchRequests, 1)
	start := time.Now()
	defer func() {
		m.RecordTimer(telemetry.MetricSearchDuration, time.Since(start))
		if err != nil {
			m.IncrementCounter(telemetry.MetricSearchFailures, 1)
		}
	}()

	if strings.TrimSpace(req.Query) == "" {
		return []Result{}, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = h.options.DefaultTopK
	}
	depth := topK * h.options.CandidateMultiplier
	weights := h.EffectiveWeights(req)

	ctx, span := telemetry.StartSpan(ctx, "search.hybrid",
		attribute.String("search.intent", string(req.Intent)),
		attribute.Int("search.top_k", topK),
		attribute.Float64("search.weight.lexical", weights.Lexical),
		attribute.Float64("search.weight.vector", weights.Vector),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if !h.VectorEnabled() {
		m.IncrementCounter(telemetry.MetricSearchVectorDisabled, 1)
	}

	var (
		lexRanked, vecRanked []Ranked
		lexErr, vecErr       error
	)

	// Each ranking keeps its own error so one can degrade without
	// cancelling the other.
	var g errgroup.Group
	if weights.Lexical > 0 {
		g.Go(func() error {
			lexRanked, lexErr = h.lexical.Search(ctx, req.Query, req.Filter, depth)
			return nil
		})
	}
	if weights.Vector > 0 {
		g.Go(func() error {
			vecRanked, vecErr = h.vector.Search(ctx, req.Query, req.Filter, depth)
			return nil
		})
	}
	_ = g.Wait()

	logger := h.options.Logger

	// An unavailable embedder means no vector signal at all, so the query
	// is scored as if vector search were disabled.
	if errortypes.IsEmbedderUnavailable(vecErr) {
		logger.Debug("Embedder unavailable, scoring lexically", "error", vecErr)
		m.IncrementCounter(telemetry.MetricSearchEmbedderUnavailable, 1)
		vecErr, vecRanked = nil, nil
		if weights.Lexical == 0 {
			lexRanked, lexErr = h.lexical.Search(ctx, req.Query, req.Filter, depth)
		}
		weights = Weights{Lexical: 1, Vector: 0}
		span.SetAttributes(
			attribute.Float64("search.weight.lexical", weights.Lexical),
			attribute.Float64("search.weight.vector", weights.Vector),
		)
	}

	if lexErr != nil && vecErr != nil {
		return nil, errors.Join(lexErr, vecErr)
	}
	if lexErr != nil {
		if errortypes.IsStorageUnavailable(lexErr) {
			return nil, lexErr
		}
		logger.Warn("Lexical ranking failed, using vector ranking only", "error", lexErr)
		m.IncrementCounter(telemetry.MetricSearchLexicalDegraded, 1)
		if weights.Vector == 0 {
			return nil, lexErr
		}
	}
	if vecErr != nil {
		logger.Warn("Vector ranking failed, using lexical ranking only", "error", vecErr)
		m.IncrementCounter(telemetry.MetricSearchVectorDegraded, 1)
		if weights.Lexical == 0 {
			return nil, vecErr
		}
	}

	fused := Fuse(lexRanked, vecRanked, weights, h.options.RRFK)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	span.SetAttributes(
		attribute.Int("search.lexical_candidates", len(lexRanked)),
		attribute.Int("search.vector_candidates", len(vecRanked)),
		attribute.Int("search.results", len(fused)),
	)
	logger.Debug("Hybrid search complete",
		"query_len", len(req.Query),
		"lexical", len(lexRanked),
		"vector", len(vecRanked),
		"results", len(fused))

	return fused, nil
}
