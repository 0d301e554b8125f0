package vector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/telemetry"
)

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	Provider   string
	Model      string
	Dimensions int
	ApiKey     string
	BaseURL    string
	CacheSize  int
	Timeout    time.Duration
}

// NewEmbedder builds and initializes the configured provider, wrapped in a
// CachedEmbedder when CacheSize > 0. Provider "none" returns (nil, nil):
// vector search is then disabled.
func NewEmbedder(cfg ProviderConfig, metrics *telemetry.MetricsCollector, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []Option{
		WithApiKey(cfg.ApiKey),
		WithModel(cfg.Model),
		WithBaseURL(cfg.BaseURL),
		WithDimensions(cfg.Dimensions),
		WithTimeout(cfg.Timeout),
	}

	var emb Embedder
	switch cfg.Provider {
	case "hashing", "":
		emb = NewHashingEmbedder(cfg.Dimensions)
	case "openai":
		emb = NewOpenAIEmbedder(opts...)
	case "google":
		emb = NewGoogleEmbedder(opts...)
	case "none":
		logger.Info("Embedding provider disabled, vector search off")
		return nil, nil
	default:
		return nil, errortypes.ConfigError(fmt.Errorf("unknown embedder provider %q", cfg.Provider), "failed to create embedder")
	}

	if cfg.CacheSize > 0 {
		emb = NewCachedEmbedder(emb, cfg.CacheSize, metrics)
	}

	if err := emb.Initialize(); err != nil {
		return nil, err
	}

	logger.Info("Embedder initialized", "provider", emb.Name(), "dimensions", emb.Dimensions(), "cache_size", cfg.CacheSize)
	return emb, nil
}
