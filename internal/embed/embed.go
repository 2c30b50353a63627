// Package embed produces fixed-dimension vectors for text. The backend
// is pluggable: a remote Ollama API for real semantic embeddings and a
// deterministic hash-based embedder for offline use and tests. Decorators
// add LRU caching and QPS rate limiting around any backend.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per backend call.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single backend call.
	DefaultTimeout = 60 * time.Second

	// StaticDimensions is the dimension of the hash-based embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text. Implementations are
// stateless with respect to inputs: the same text always embeds to the
// same vector for a given model.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the backend is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
