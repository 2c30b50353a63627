package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/latticemcp/lattice/internal/errors"
)

// Ollama API defaults.
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"

	ollamaPoolSize = 4
)

// OllamaConfig configures the remote Ollama backend.
type OllamaConfig struct {
	URL   string
	Model string
	// Dimensions overrides autodetection when non-zero.
	Dimensions int
	// Timeout bounds a single API call.
	Timeout time.Duration
	// SkipHealthCheck defers the reachability probe and dimension
	// autodetect to the first call. Used by tests.
	SkipHealthCheck bool
}

// OllamaEmbedder talks to Ollama's /api/embed endpoint over a pooled
// transport. Transient failures surface as code 1005 so the caller's
// retry policy can distinguish them from validation errors.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder and, unless skipped,
// verifies the backend is reachable and detects the model dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultOllamaURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Deadlines come from per-request contexts, not a client timeout, so
	// a caller deadline always wins.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if !e.Available(checkCtx) {
			transport.CloseIdleConnections()
			return nil, errors.EmbedderUnavailable(fmt.Errorf("ollama not reachable at %s", cfg.URL))
		}
		if e.dims == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, err
			}
			e.dims = dims
		}
	}
	return e, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimensions()), nil
	}
	vectors, err := e.doEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.EmbedderUnavailable(fmt.Errorf("no embedding returned"))
	}
	return vectors[0], nil
}

// EmbedBatch implements Embedder. Blank texts embed to zero vectors
// without a backend call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	var indices []int
	var nonEmpty []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.Dimensions())
			continue
		}
		indices = append(indices, i)
		nonEmpty = append(nonEmpty, text)
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}
	vectors, err := e.doEmbed(ctx, nonEmpty)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(nonEmpty) {
		return nil, errors.EmbedderUnavailable(fmt.Errorf("expected %d embeddings, got %d", len(nonEmpty), len(vectors)))
	}
	for j, idx := range indices {
		results[idx] = vectors[j]
	}
	return results, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.config.URL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.EmbedderUnavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.EmbedderUnavailable(fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.EmbedderUnavailable(fmt.Errorf("decode embed response: %w", err))
	}
	return result.Embeddings, nil
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vectors, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, errors.EmbedderUnavailable(fmt.Errorf("empty embedding returned"))
	}
	return len(vectors[0]), nil
}

// Dimensions implements Embedder.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName implements Embedder.
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available probes the API root.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.URL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close implements Embedder.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
