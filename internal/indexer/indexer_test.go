package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/embed"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/keyword"
	"github.com/latticemcp/lattice/internal/store"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

func testConfig() config.IndexingConfig {
	return config.IndexingConfig{
		Workers:       2,
		BatchSize:     4,
		FlushInterval: 50 * time.Millisecond,
	}
}

type harness struct {
	idx      *Indexer
	dir      string
	embedder embed.Embedder
	vectors  vector.Store
	keywords *keyword.Index
	st       *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	embedder := embed.NewStaticEmbedder()
	vectors, err := vector.NewHNSWStore(filepath.Join(t.TempDir(), "vectors"))
	require.NoError(t, err)
	keywords, err := keyword.Open("")
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "lattice.db"))
	require.NoError(t, err)

	project := workspace.Project{ID: "alpha", Name: "alpha", Path: ".", AbsPath: dir}
	idx, err := New(context.Background(), project, testConfig(), Deps{
		Embedder: embedder,
		Vectors:  vectors,
		Keywords: keywords,
		Store:    st,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		idx.StopMonitoring()
		_ = keywords.Close()
		_ = vectors.Close()
		_ = st.Close()
		_ = embedder.Close()
	})
	return &harness{idx: idx, dir: dir, embedder: embedder, vectors: vectors, keywords: keywords, st: st}
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const goSource = `package demo

// Greet returns a friendly greeting for name.
func Greet(name string) string {
	return "hello " + name
}
`

func TestInitializeCreatesCollection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, workspace.StatusUninitialized, h.idx.Status().Status)
	require.NoError(t, h.idx.Initialize(ctx))
	assert.Equal(t, workspace.StatusReady, h.idx.Status().Status)

	exists, err := h.vectors.CollectionExists(ctx, h.idx.Collection())
	require.NoError(t, err)
	assert.True(t, exists)

	dim, err := h.vectors.CollectionDimensions(ctx, h.idx.Collection())
	require.NoError(t, err)
	assert.Equal(t, h.embedder.Dimensions(), dim)
}

func TestIndexRequiresInitialize(t *testing.T) {
	h := newHarness(t)
	_, err := h.idx.Index(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeProjectBusy, errors.CodeOf(err))
}

func TestIndexAndSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "greet.go", goSource)
	h.write(t, "notes.txt", "the greeting service says hello to every caller")

	require.NoError(t, h.idx.Initialize(ctx))
	summary, err := h.idx.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesIndexed)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, workspace.StatusReady, h.idx.Status().Status)

	count, err := h.vectors.Count(ctx, h.idx.Collection())
	require.NoError(t, err)
	assert.Positive(t, count)

	kwCount, err := h.keywords.Count()
	require.NoError(t, err)
	assert.Positive(t, kwCount)

	vec, err := h.embedder.Embed(ctx, "friendly greeting for name")
	require.NoError(t, err)
	hits, err := h.idx.Search(ctx, vec, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	paths := make([]string, 0, len(hits))
	for _, hit := range hits {
		paths = append(paths, hit.Payload.FilePath)
	}
	assert.Contains(t, paths, "greet.go")
}

func TestSearchBeforeReady(t *testing.T) {
	h := newHarness(t)
	vec, err := h.embedder.Embed(context.Background(), "anything")
	require.NoError(t, err)
	_, err = h.idx.Search(context.Background(), vec, 5, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeProjectUnknown, errors.CodeOf(err))
}

func TestIncrementalSkipsUnchangedFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "a.txt", "alpha file body")
	h.write(t, "b.txt", "beta file body")

	require.NoError(t, h.idx.Initialize(ctx))
	_, err := h.idx.Index(ctx)
	require.NoError(t, err)

	summary, err := h.idx.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesSkipped)
	assert.Equal(t, 0, summary.FilesIndexed, "skipped files are not re-indexed")
	// The tracked file count is unchanged.
	assert.Equal(t, 2, h.idx.Status().FilesIndexed)
}

func TestIndexComputesCentroid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "a.txt", "alpha file body about parsing")
	h.write(t, "b.txt", "beta file body about rendering")

	require.NoError(t, h.idx.Initialize(ctx))
	_, err := h.idx.Index(ctx)
	require.NoError(t, err)

	state := h.idx.Status()
	require.Len(t, state.Centroid, h.embedder.Dimensions())
	assert.Positive(t, state.ChunkCount)

	// A no-change rerun embeds nothing, so the centroid stays put.
	_, err = h.idx.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Centroid, h.idx.Status().Centroid)
	assert.Equal(t, state.ChunkCount, h.idx.Status().ChunkCount)
}

func TestModifiedFileReplacesChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "doc.txt", "original body about authentication tokens")

	require.NoError(t, h.idx.Initialize(ctx))
	_, err := h.idx.Index(ctx)
	require.NoError(t, err)
	oldIDs, err := h.keywords.IDs()
	require.NoError(t, err)
	require.NotEmpty(t, oldIDs)

	h.write(t, "doc.txt", "rewritten body about database migrations instead")
	_, err = h.idx.Index(ctx)
	require.NoError(t, err)

	newIDs, err := h.keywords.IDs()
	require.NoError(t, err)
	require.NotEmpty(t, newIDs)
	// Content hash participates in chunk identity, so every id changes.
	for _, id := range oldIDs {
		assert.NotContains(t, newIDs, id)
	}

	count, err := h.vectors.Count(ctx, h.idx.Collection())
	require.NoError(t, err)
	assert.Equal(t, len(newIDs), count)
}

func TestDeletedFileIsPruned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "keep.txt", "this file stays in the index")
	h.write(t, "gone.txt", "this file is about to disappear")

	require.NoError(t, h.idx.Initialize(ctx))
	_, err := h.idx.Index(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(h.dir, "gone.txt")))
	summary, err := h.idx.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FilesIndexed)
	assert.Equal(t, 1, summary.FilesSkipped)

	state := h.idx.Status()
	assert.Contains(t, state.PerFile, "keep.txt")
	assert.NotContains(t, state.PerFile, "gone.txt")

	keys, err := h.st.KeysWithPrefix(ctx, "chunks/alpha/")
	require.NoError(t, err)
	assert.NotContains(t, keys, "chunks/alpha/gone.txt")
}

func TestConcurrentIndexIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.idx.Initialize(ctx))

	release, err := h.idx.acquireLocks()
	require.NoError(t, err)
	defer release()

	_, err = h.idx.Index(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeProjectBusy, errors.CodeOf(err))
}

func TestDimensionMismatchRebuildsCollection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Simulate a collection left behind by a different embedding model.
	require.NoError(t, h.vectors.CreateCollection(ctx, h.idx.Collection(), 8))
	h.idx.mu.Lock()
	h.idx.state.PerFile = map[string]string{"stale.go": "deadbeef"}
	h.idx.state.FilesIndexed = 1
	h.idx.mu.Unlock()

	require.NoError(t, h.idx.Initialize(ctx))

	dim, err := h.vectors.CollectionDimensions(ctx, h.idx.Collection())
	require.NoError(t, err)
	assert.Equal(t, h.embedder.Dimensions(), dim)
	assert.Empty(t, h.idx.Status().PerFile)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "a.txt", "persisted body")

	require.NoError(t, h.idx.Initialize(ctx))
	_, err := h.idx.Index(ctx)
	require.NoError(t, err)

	reloaded, err := New(ctx, h.idx.Project(), testConfig(), Deps{
		Embedder: h.embedder,
		Vectors:  h.vectors,
		Keywords: h.keywords,
		Store:    h.st,
	})
	require.NoError(t, err)
	state := reloaded.Status()
	assert.Equal(t, workspace.StatusReady, state.Status)
	assert.Contains(t, state.PerFile, "a.txt")
}

func TestRemoveDropsData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "a.txt", "removable body")

	require.NoError(t, h.idx.Initialize(ctx))
	_, err := h.idx.Index(ctx)
	require.NoError(t, err)

	require.NoError(t, h.idx.Remove(ctx, true))

	exists, err := h.vectors.CollectionExists(ctx, h.idx.Collection())
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := h.keywords.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	keys, err := h.st.KeysWithPrefix(ctx, "chunks/alpha/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCancelledIndexFails(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.idx.Initialize(context.Background()))
	h.write(t, "a.txt", "body")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.idx.Index(ctx)
	require.Error(t, err)
	assert.Equal(t, workspace.StatusFailed, h.idx.Status().Status)
}

func TestMonitoringReindexesOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "watched.txt", "first version of the watched file")

	require.NoError(t, h.idx.Initialize(ctx))
	_, err := h.idx.Index(ctx)
	require.NoError(t, err)

	changedCh := make(chan []string, 10)
	require.NoError(t, h.idx.StartMonitoring(ctx, func(paths []string) {
		changedCh <- paths
	}))
	defer h.idx.StopMonitoring()
	assert.True(t, h.idx.Monitoring())

	// Give the watcher time to establish watches before mutating.
	time.Sleep(100 * time.Millisecond)
	h.write(t, "watched.txt", "second version with fresh content")

	select {
	case paths := <-changedCh:
		assert.Contains(t, paths, "watched.txt")
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}
