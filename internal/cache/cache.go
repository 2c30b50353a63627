// Package cache is the tiered query result cache. L1 is an in-process
// LRU, L2 an optional shared NATS JetStream KV bucket, L3 the durable
// cached_results table for template queries. Reads fall through
// L1→L2→L3; invalidation removes entries whose payloads cite a changed
// file; a Markov prefetcher warms likely next queries into L1.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/store"
)

// Remote is the L2 surface. Implemented by NATSKV; nil means no L2.
type Remote interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte)
	Delete(key string)
	Close()
}

// Cache is the tiered cache. Safe for concurrent use.
type Cache struct {
	mu sync.Mutex
	l1 *lru.Cache[string, []byte]
	// paths maps a file path to the L1/L2 fingerprints citing it.
	paths map[string]map[string]struct{}
	// keyPaths is the reverse view used to unwire evicted entries.
	keyPaths map[string][]string

	l2       Remote
	l3       *store.Store
	prefetch *Prefetcher
	logger   *slog.Logger

	hits, misses uint64
}

// New builds the cache from config. st may be nil (no L3), remote may
// be nil (no L2).
func New(cfg config.CacheConfig, st *store.Store, remote Remote, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.L1Size
	if size <= 0 {
		size = 512
	}
	l1, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		l1:       l1,
		paths:    make(map[string]map[string]struct{}),
		keyPaths: make(map[string][]string),
		l2:       remote,
		l3:       st,
		logger:   logger.With("component", "cache"),
	}
	if cfg.Prefetch.Enabled {
		c.prefetch = NewPrefetcher(c, cfg.Prefetch.TopK, cfg.Prefetch.Budget)
	}
	return c, nil
}

// Get reads through the tiers. An L2 or L3 hit is promoted into L1.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	if payload, ok := c.l1.Get(fingerprint); ok {
		c.hits++
		c.mu.Unlock()
		return payload, true
	}
	c.mu.Unlock()

	if c.l2 != nil {
		if payload, ok := c.l2.Get(fingerprint); ok {
			c.promote(fingerprint, payload, c.citedPaths(ctx, fingerprint, payload))
			return payload, true
		}
	}
	if c.l3 != nil {
		payload, err := c.l3.GetCachedResult(ctx, fingerprint)
		if err != nil {
			c.logger.Warn("l3 read failed", "fingerprint", fingerprint, "error", err)
		} else if payload != nil {
			c.promote(fingerprint, payload, c.citedPaths(ctx, fingerprint, payload))
			return payload, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Put writes L1 always and L2 when configured. L3 writes go through
// PutDurable, which template execution uses.
func (c *Cache) Put(ctx context.Context, fingerprint string, payload []byte, paths []string) {
	_ = ctx
	c.promote(fingerprint, payload, paths)
	if c.l2 != nil {
		c.l2.Put(fingerprint, payload)
	}
}

// PutDurable additionally persists to the cached_results table so the
// entry survives restarts. Template query results use it.
func (c *Cache) PutDurable(ctx context.Context, fingerprint string, payload []byte, paths []string, expiry time.Time) {
	c.Put(ctx, fingerprint, payload, paths)
	if c.l3 == nil {
		return
	}
	if err := c.l3.PutCachedResult(ctx, fingerprint, payload, expiry, paths); err != nil {
		c.logger.Warn("l3 write failed", "fingerprint", fingerprint, "error", err)
	}
}

// Invalidate removes every cached entry citing any of the changed
// paths, from every tier. Durable fingerprints come from the L3 reverse
// index, so entries written by another process drop from L2 too; the
// refresh queue repopulates the durable ones.
func (c *Cache) Invalidate(ctx context.Context, paths []string) {
	stale := map[string]struct{}{}
	c.mu.Lock()
	for _, path := range paths {
		for fp := range c.paths[path] {
			stale[fp] = struct{}{}
		}
	}
	c.mu.Unlock()

	if c.l3 != nil {
		for _, path := range paths {
			fps, err := c.l3.FingerprintsForPath(ctx, path)
			if err != nil {
				c.logger.Warn("l3 path lookup failed", "path", path, "error", err)
				continue
			}
			for _, fp := range fps {
				stale[fp] = struct{}{}
			}
		}
	}
	if len(stale) == 0 {
		return
	}
	fps := make([]string, 0, len(stale))
	for fp := range stale {
		fps = append(fps, fp)
	}

	c.mu.Lock()
	for _, fp := range fps {
		c.dropLocked(fp)
	}
	c.mu.Unlock()

	if c.l2 != nil {
		for _, fp := range fps {
			c.l2.Delete(fp)
		}
	}
	if c.l3 != nil {
		if err := c.l3.DeleteCachedResults(ctx, fps); err != nil {
			c.logger.Warn("l3 invalidation failed", "error", err)
		}
	}
}

// RecordQuery feeds the prefetcher with one user's query sequence.
func (c *Cache) RecordQuery(userID, fingerprint string) {
	if c.prefetch != nil {
		c.prefetch.Record(userID, fingerprint)
	}
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Close stops the prefetcher and the L2 connection.
func (c *Cache) Close() {
	if c.prefetch != nil {
		c.prefetch.Stop()
	}
	if c.l2 != nil {
		c.l2.Close()
	}
}

// promote installs an entry in L1 and wires its path index.
func (c *Cache) promote(fingerprint string, payload []byte, paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1.Add(fingerprint, payload)
	if len(paths) == 0 {
		return
	}
	c.keyPaths[fingerprint] = paths
	for _, path := range paths {
		set, ok := c.paths[path]
		if !ok {
			set = make(map[string]struct{})
			c.paths[path] = set
		}
		set[fingerprint] = struct{}{}
	}
}

// dropLocked removes an entry from L1 and its index wiring.
func (c *Cache) dropLocked(fingerprint string) {
	c.l1.Remove(fingerprint)
	for _, path := range c.keyPaths[fingerprint] {
		if set, ok := c.paths[path]; ok {
			delete(set, fingerprint)
			if len(set) == 0 {
				delete(c.paths, path)
			}
		}
	}
	delete(c.keyPaths, fingerprint)
}

// warm pulls a fingerprint from L2/L3 into L1 without counting a miss.
func (c *Cache) warm(ctx context.Context, fingerprint string) {
	c.mu.Lock()
	_, inL1 := c.l1.Peek(fingerprint)
	c.mu.Unlock()
	if inL1 {
		return
	}
	if c.l2 != nil {
		if payload, ok := c.l2.Get(fingerprint); ok {
			c.promote(fingerprint, payload, c.citedPaths(ctx, fingerprint, payload))
			return
		}
	}
	if c.l3 != nil {
		if payload, err := c.l3.GetCachedResult(ctx, fingerprint); err == nil && payload != nil {
			c.promote(fingerprint, payload, c.citedPaths(ctx, fingerprint, payload))
		}
	}
}

// citedPaths recovers the file paths an entry cites, so promotion wires
// it into the invalidation index. Durable entries carry their paths in
// the store; for the rest they are read off the result payload.
func (c *Cache) citedPaths(ctx context.Context, fingerprint string, payload []byte) []string {
	if c.l3 != nil {
		if paths, err := c.l3.PathsForFingerprint(ctx, fingerprint); err == nil && len(paths) > 0 {
			return paths
		}
	}
	var cited []struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(payload, &cited); err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(cited))
	var paths []string
	for _, r := range cited {
		if r.Path == "" {
			continue
		}
		if _, dup := seen[r.Path]; dup {
			continue
		}
		seen[r.Path] = struct{}{}
		paths = append(paths, r.Path)
	}
	return paths
}
