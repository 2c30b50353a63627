package embed

import (
	"context"
	"sync"
	"time"
)

// RateLimitedEmbedder throttles backend calls to a maximum QPS. The
// indexing pipeline wraps the shared embedder with this so a fast local
// scan cannot flood a remote backend past its advertised rate. A batch
// call counts as one request.
type RateLimitedEmbedder struct {
	inner    Embedder
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder wraps inner, allowing at most maxQPS calls per
// second. maxQPS <= 0 disables limiting.
func NewRateLimitedEmbedder(inner Embedder, maxQPS int) *RateLimitedEmbedder {
	var interval time.Duration
	if maxQPS > 0 {
		interval = time.Second / time.Duration(maxQPS)
	}
	return &RateLimitedEmbedder{inner: inner, interval: interval}
}

// wait blocks until the next call slot or the context ends.
func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	if r.interval == 0 {
		return nil
	}
	r.mu.Lock()
	now := time.Now()
	slot := r.next
	if slot.Before(now) {
		slot = now
	}
	r.next = slot.Add(r.interval)
	r.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Embed implements Embedder.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch implements Embedder.
func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}

func (r *RateLimitedEmbedder) Dimensions() int { return r.inner.Dimensions() }

func (r *RateLimitedEmbedder) ModelName() string { return r.inner.ModelName() }

func (r *RateLimitedEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

func (r *RateLimitedEmbedder) Close() error { return r.inner.Close() }
