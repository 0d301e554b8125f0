package search

import (
	"log/slog"

	"github.com/localrivet/researchmemory/internal/telemetry"
)

// Option configures a HybridSearcher.
type Option func(*Options)

// Options holds HybridSearcher settings.
type Options struct {
	RRFK                float64
	DefaultTopK         int
	CandidateMultiplier int
	Logger              *slog.Logger
	Metrics             *telemetry.MetricsCollector
}

// WithRRFK sets the fusion rank offset k.
func WithRRFK(k float64) Option {
	return func(o *Options) {
		if k >= 0 {
			o.RRFK = k
		}
	}
}

// WithDefaultTopK sets the result count used when a request gives none.
func WithDefaultTopK(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.DefaultTopK = n
		}
	}
}

// WithCandidateMultiplier sets how many candidates per requested result each
// ranking retrieves before fusion.
func WithCandidateMultiplier(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.CandidateMultiplier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.MetricsCollector) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	options := Options{
		RRFK:                DefaultRRFK,
		DefaultTopK:         10,
		CandidateMultiplier: 2,
		Logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
