package cache

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRemote is a map-backed L2 that records traffic.
type fakeRemote struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	deletes []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entries: make(map[string][]byte)}
}

func (f *fakeRemote) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.entries[key]
	return v, ok
}

func (f *fakeRemote) Put(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
}

func (f *fakeRemote) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	f.deletes = append(f.deletes, key)
}

func (f *fakeRemote) Close() {}

func (f *fakeRemote) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		L1Size: 8,
		L3TTL:  time.Hour,
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "lattice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCacheL1RoundTrip(t *testing.T) {
	c, err := New(testConfig(), nil, nil, testLogger())
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, ok := c.Get(ctx, "fp1")
	assert.False(t, ok)

	c.Put(ctx, "fp1", []byte("results"), []string{"a.go"})
	payload, ok := c.Get(ctx, "fp1")
	require.True(t, ok)
	assert.Equal(t, []byte("results"), payload)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestCacheL2FallthroughAndPromotion(t *testing.T) {
	remote := newFakeRemote()
	remote.Put("fp1", []byte("shared"))

	c, err := New(testConfig(), nil, remote, testLogger())
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	payload, ok := c.Get(ctx, "fp1")
	require.True(t, ok)
	assert.Equal(t, []byte("shared"), payload)
	assert.Equal(t, 1, remote.getCount())

	// Promoted into L1, so L2 is not consulted again.
	_, ok = c.Get(ctx, "fp1")
	require.True(t, ok)
	assert.Equal(t, 1, remote.getCount())
}

func TestCachePutWritesL2(t *testing.T) {
	remote := newFakeRemote()
	c, err := New(testConfig(), nil, remote, testLogger())
	require.NoError(t, err)
	defer c.Close()

	c.Put(context.Background(), "fp1", []byte("results"), nil)
	v, ok := remote.entries["fp1"]
	require.True(t, ok)
	assert.Equal(t, []byte("results"), v)
}

func TestCacheDurableSurvivesRestart(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := New(testConfig(), st, nil, testLogger())
	require.NoError(t, err)
	first.PutDurable(ctx, "fp1", []byte("template results"), []string{"a.go"}, time.Now().Add(time.Hour))
	first.Close()

	second, err := New(testConfig(), st, nil, testLogger())
	require.NoError(t, err)
	defer second.Close()

	payload, ok := second.Get(ctx, "fp1")
	require.True(t, ok)
	assert.Equal(t, []byte("template results"), payload)
}

func TestCacheDurableExpiry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := New(testConfig(), st, nil, testLogger())
	require.NoError(t, err)
	first.PutDurable(ctx, "fp1", []byte("stale"), nil, time.Now().Add(-time.Minute))
	first.Close()

	second, err := New(testConfig(), st, nil, testLogger())
	require.NoError(t, err)
	defer second.Close()

	_, ok := second.Get(ctx, "fp1")
	assert.False(t, ok)
}

func TestCacheInvalidateByPath(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	c, err := New(testConfig(), st, remote, testLogger())
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	c.PutDurable(ctx, "fp1", []byte("one"), []string{"auth/jwt.go", "db/pool.go"}, time.Now().Add(time.Hour))
	c.Put(ctx, "fp2", []byte("two"), []string{"db/pool.go"})
	c.Put(ctx, "fp3", []byte("three"), []string{"main.go"})

	c.Invalidate(ctx, []string{"db/pool.go"})

	_, ok := c.Get(ctx, "fp1")
	assert.False(t, ok, "durable entry citing the changed path must drop")
	_, ok = c.Get(ctx, "fp2")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "fp3")
	assert.True(t, ok, "unrelated entry stays")

	assert.ElementsMatch(t, []string{"fp1", "fp2"}, remote.deletes)

	fps, err := st.FingerprintsForPath(ctx, "db/pool.go")
	require.NoError(t, err)
	assert.Empty(t, fps, "L3 reverse index must be cleared")
}

func TestCacheInvalidateClearsL2ForDurableEntries(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	ctx := context.Background()

	writer, err := New(testConfig(), st, remote, testLogger())
	require.NoError(t, err)
	writer.PutDurable(ctx, "fp1", []byte(`[{"path":"auth/jwt.go"}]`), []string{"auth/jwt.go"}, time.Now().Add(time.Hour))
	writer.Close()

	// A second process has no in-memory path index; the durable reverse
	// index must still reach the shared tier.
	reader, err := New(testConfig(), st, remote, testLogger())
	require.NoError(t, err)
	defer reader.Close()

	reader.Invalidate(ctx, []string{"auth/jwt.go"})

	assert.Contains(t, remote.deletes, "fp1")
	_, ok := reader.Get(ctx, "fp1")
	assert.False(t, ok, "no tier may serve the stale entry")
}

func TestCachePromotionRegistersPaths(t *testing.T) {
	remote := newFakeRemote()
	remote.Put("fp1", []byte(`[{"path":"auth/jwt.go"},{"path":"db/pool.go"}]`))

	c, err := New(testConfig(), nil, remote, testLogger())
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	// Promotion from L2 wires the entry into the invalidation index.
	_, ok := c.Get(ctx, "fp1")
	require.True(t, ok)

	c.Invalidate(ctx, []string{"db/pool.go"})

	assert.Contains(t, remote.deletes, "fp1")
	_, ok = c.Get(ctx, "fp1")
	assert.False(t, ok)
}

func TestPrefetcherPredictsSuccessors(t *testing.T) {
	c, err := New(testConfig(), nil, nil, testLogger())
	require.NoError(t, err)
	defer c.Close()

	p := NewPrefetcher(c, 2, 2)
	defer p.Stop()

	// u1 goes a→b twice and a→c once; u2 contributes one more a→b.
	for _, seq := range [][]string{{"a", "b", "a", "b"}, {"a", "c"}} {
		for _, fp := range seq {
			p.Record("u1", fp)
		}
	}
	p.Record("u2", "a")
	p.Record("u2", "b")

	p.mu.Lock()
	got := p.successorsLocked("a")
	p.mu.Unlock()
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestPrefetcherWarmsIntoL1(t *testing.T) {
	remote := newFakeRemote()
	remote.Put("fp2", []byte("warmed"))

	cfg := testConfig()
	cfg.Prefetch = config.PrefetchConfig{Enabled: true, TopK: 2, Budget: 2}
	c, err := New(cfg, nil, remote, testLogger())
	require.NoError(t, err)
	defer c.Close()

	c.RecordQuery("u1", "fp1")
	c.RecordQuery("u1", "fp2")
	// Revisiting fp1 predicts fp2 and warms it in the background.
	c.RecordQuery("u1", "fp1")

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, ok := c.l1.Peek("fp2")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshQueueDedupesWhileQueued(t *testing.T) {
	q := NewRefreshQueue(func(context.Context, string) error { return nil }, testLogger())
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("a")
	assert.Equal(t, 2, q.Len())
}

func TestRefreshQueueProcessesKeys(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewRefreshQueue(func(_ context.Context, key string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, key)
		return nil
	}, testLogger())

	q.Enqueue("a")
	q.Enqueue("b")
	q.Start(context.Background())
	defer q.Stop()
	q.Enqueue("c")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, 0, q.Len())
}
