package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticemcp/lattice/internal/cache"
	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/embed"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/query"
	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/internal/store"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

// newEngineFor builds a full engine stack around an existing workspace
// file, for scenarios the shared two-project env does not fit.
func newEngineFor(t *testing.T, wsPath string) *Engine {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "lattice.db"))
	require.NoError(t, err)
	vectors, err := vector.NewHNSWStore(filepath.Join(t.TempDir(), "vectors"))
	require.NoError(t, err)
	embedder := embed.NewStaticEmbedder()

	c, err := cache.New(config.New().Cache, st, nil, slog.Default())
	require.NoError(t, err)
	sessions := session.NewManager(st, slog.Default())

	e, err := New(ctx, config.New(), Deps{
		Embedder: embedder,
		Vectors:  vectors,
		Store:    st,
		Cache:    c,
		Sessions: sessions,
	})
	require.NoError(t, err)
	require.NoError(t, e.LoadWorkspace(ctx, wsPath))

	t.Cleanup(func() {
		_ = e.Close()
		c.Close()
		_ = vectors.Close()
		_ = st.Close()
		_ = embedder.Close()
	})
	return e
}

func TestEmptyWorkspace(t *testing.T) {
	root := t.TempDir()
	ws := workspace.New("W")
	wsPath := filepath.Join(root, workspace.DefaultFileName)
	require.NoError(t, ws.Save(wsPath))

	e := newEngineFor(t, wsPath)
	ctx := context.Background()

	resp, err := e.Search(ctx, query.Request{Query: "anything", Scope: workspace.ScopeWorkspace, K: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	summaries, errs := e.IndexAll(ctx, true)
	assert.Empty(t, summaries)
	assert.Empty(t, errs)
}

func TestSingleFileProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "p1", "a.py"), "def foo(): pass\n")

	ws := workspace.New("W")
	require.NoError(t, ws.AddProject(workspace.Project{
		ID: "p1", Name: "p1", Path: "p1", Type: workspace.TypeApplication,
	}))
	wsPath := filepath.Join(root, workspace.DefaultFileName)
	require.NoError(t, ws.Save(wsPath))

	e := newEngineFor(t, wsPath)
	ctx := context.Background()

	sum, err := e.IndexProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesIndexed)
	assert.Equal(t, 1, e.Statuses()["p1"].FilesIndexed)

	resp, err := e.Search(ctx, query.Request{
		Query: "foo", Scope: workspace.ScopeProject, ProjectID: "p1", K: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.True(t, strings.HasSuffix(resp.Results[0].Path, "a.py"))
}

func TestSearchWithoutScopeUsesWorkspaceDefault(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)
	ctx := context.Background()

	resp, err := env.engine.Search(ctx, query.Request{Query: "find the greeting function", K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	// The resolved default participates in the cache key, so an explicit
	// workspace-scope request is the same query.
	explicit, err := env.engine.Search(ctx, query.Request{
		Query: "find the greeting function", Scope: workspace.ScopeWorkspace, K: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, resp.Fingerprint, explicit.Fingerprint)
	assert.True(t, explicit.FromCache)
}

func TestRelatedScopeIncludesSimilarProjects(t *testing.T) {
	root := t.TempDir()
	shared := "charging invoices with exponential backoff retries\n"
	writeFile(t, filepath.Join(root, "p1", "billing.txt"), shared)
	writeFile(t, filepath.Join(root, "p2", "billing.txt"), shared)
	writeFile(t, filepath.Join(root, "p3", "runbook.txt"), "kubernetes ingress rollout checklist\n")

	ws := workspace.New("W")
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, ws.AddProject(workspace.Project{
			ID: id, Name: id, Path: id, Type: workspace.TypeApplication,
		}))
	}
	wsPath := filepath.Join(root, workspace.DefaultFileName)
	require.NoError(t, ws.Save(wsPath))

	e := newEngineFor(t, wsPath)
	indexAll(t, e)
	ctx := context.Background()

	sim, ok := e.Graph().Similarity("p1", "p2")
	require.True(t, ok)
	assert.Greater(t, sim, 0.99, "identical content gives identical centroids")

	// No relationship edges exist, so p2 joins through similarity alone.
	targets, err := e.resolveTargets(workspace.ScopeRelated, "p1")
	require.NoError(t, err)
	assert.Contains(t, targets, "p2")
	assert.NotContains(t, targets, "p3")

	// Rewriting p2 moves its centroid and drops the pairing.
	writeFile(t, filepath.Join(root, "p2", "billing.txt"), "weekly pager rotation schedule for oncall\n")
	_, err = e.IndexProject(ctx, "p2")
	require.NoError(t, err)

	sim, ok = e.Graph().Similarity("p1", "p2")
	require.True(t, ok)
	assert.Less(t, sim, semanticRelatedThreshold)
}

func TestProjectWithZeroFilesReachesReady(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "void"), 0o755))

	ws := workspace.New("W")
	require.NoError(t, ws.AddProject(workspace.Project{
		ID: "void", Name: "void", Path: "void", Type: workspace.TypeLibrary,
	}))
	wsPath := filepath.Join(root, workspace.DefaultFileName)
	require.NoError(t, ws.Save(wsPath))

	e := newEngineFor(t, wsPath)
	sum, err := e.IndexProject(context.Background(), "void")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.FilesIndexed)

	state := e.Statuses()["void"]
	assert.Equal(t, workspace.StatusReady, state.Status)
	assert.Equal(t, 0, state.FilesIndexed)
}

func TestLoadFailsOnDependencyCycle(t *testing.T) {
	root := t.TempDir()
	raw := `{
  "version": "2.0.0",
  "name": "cycle",
  "projects": [
    {"id": "a", "name": "a", "path": "a", "type": "library", "dependencies": ["b"]},
    {"id": "b", "name": "b", "path": "b", "type": "library", "dependencies": ["c"]},
    {"id": "c", "name": "c", "path": "c", "type": "library", "dependencies": ["a"]}
  ]
}`
	wsPath := filepath.Join(root, workspace.DefaultFileName)
	require.NoError(t, os.WriteFile(wsPath, []byte(raw), 0o644))

	st, err := store.Open("")
	require.NoError(t, err)
	defer st.Close()
	vectors, err := vector.NewHNSWStore(t.TempDir())
	require.NoError(t, err)
	defer vectors.Close()
	embedder := embed.NewStaticEmbedder()

	e, err := New(context.Background(), nil, Deps{Embedder: embedder, Vectors: vectors, Store: st})
	require.NoError(t, err)
	defer e.Close()

	err = e.LoadWorkspace(context.Background(), wsPath)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "dependency cycle")
	// The message carries one full cycle path, e.g. "a -> b -> c -> a".
	assert.GreaterOrEqual(t, strings.Count(err.Error(), "->"), 3)
}

func TestReindexAfterContentChange(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	sum, err := e.IndexProject(ctx, "lib")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesIndexed)

	writeFile(t, filepath.Join(env.root, "lib", "greeter.go"), `package greeter

// Greet builds a formal greeting message for the given name.
func Greet(name string) string {
	return "good day " + name
}
`)
	sum, err = e.IndexProject(ctx, "lib")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesIndexed)
	assert.Equal(t, 0, sum.FilesSkipped)

	// No change, nothing to do.
	sum, err = e.IndexProject(ctx, "lib")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.FilesIndexed)
	assert.Equal(t, 1, sum.FilesSkipped)
}

func TestEditInvalidatesCachedSearch(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	indexAll(t, e)
	ctx := context.Background()

	req := query.Request{Query: "find the greeting function", Scope: workspace.ScopeWorkspace, K: 5}
	first, err := e.Search(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)

	cached, err := e.Search(ctx, req)
	require.NoError(t, err)
	require.True(t, cached.FromCache)

	e.InvalidatePaths(ctx, []string{first.Results[0].Path})

	fresh, err := e.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, fresh.FromCache)
	assert.Equal(t, first.Fingerprint, fresh.Fingerprint)
}
