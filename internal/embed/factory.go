package embed

import (
	"context"
	"fmt"

	"github.com/latticemcp/lattice/internal/config"
)

// NewFromConfig builds the embedder stack the engine config asks for:
// the selected backend wrapped in the LRU cache and, when a QPS cap is
// configured, the rate limiter.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "", "static":
		inner = NewStaticEmbedder()
	case "ollama":
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			URL:        cfg.URL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = ollama
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	wrapped := Embedder(NewCachedEmbedder(inner, cfg.CacheSize))
	if cfg.MaxQPS > 0 {
		wrapped = NewRateLimitedEmbedder(wrapped, cfg.MaxQPS)
	}
	return wrapped, nil
}
