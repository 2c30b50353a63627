package cache

import (
	"context"
	"log/slog"
	"sync"
)

// RefreshFunc recomputes one durable cache entry. The engine supplies
// one that re-runs the template behind the key and calls PutDurable.
type RefreshFunc func(ctx context.Context, key string) error

// RefreshQueue repopulates durable entries after invalidation. Keys are
// deduplicated while queued and processed by a single worker so a burst
// of file changes does not stampede the search backends.
type RefreshQueue struct {
	fn     RefreshFunc
	logger *slog.Logger

	mu      sync.Mutex
	order   []string
	queued  map[string]struct{}
	running bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRefreshQueue builds a stopped queue around fn.
func NewRefreshQueue(fn RefreshFunc, logger *slog.Logger) *RefreshQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshQueue{
		fn:     fn,
		logger: logger.With("component", "cache.refresh"),
		queued: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the worker. Calling Start on a running queue is a
// no-op.
func (q *RefreshQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	go q.run(ctx, q.stopCh, q.doneCh)
}

// Stop halts the worker after the in-flight refresh finishes. Queued
// keys are kept for the next Start.
func (q *RefreshQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	done := q.doneCh
	q.mu.Unlock()
	<-done
}

// Enqueue schedules one key. Already-queued keys are not duplicated.
func (q *RefreshQueue) Enqueue(key string) {
	q.mu.Lock()
	if _, ok := q.queued[key]; !ok {
		q.queued[key] = struct{}{}
		q.order = append(q.order, key)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of queued keys.
func (q *RefreshQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *RefreshQueue) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		key, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-stopCh:
			// Keep the key for the next Start.
			q.Enqueue(key)
			return
		case <-ctx.Done():
			q.Enqueue(key)
			return
		default:
		}
		if err := q.fn(ctx, key); err != nil {
			q.logger.Warn("refresh failed", "key", key, "error", err)
		}
	}
}

// next pops the oldest queued key.
func (q *RefreshQueue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return "", false
	}
	key := q.order[0]
	q.order = q.order[1:]
	delete(q.queued, key)
	return key, true
}
