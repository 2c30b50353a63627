package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
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
	"github.com/latticemcp/lattice/internal/templates"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

type testEnv struct {
	engine *Engine
	root   string
	wsPath string
}

// newTestEnv builds a two-project workspace: app depends on lib.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "lib", "greeter.go"), `package greeter

// Greet builds a friendly greeting message for the given name.
func Greet(name string) string {
	return "hello " + name
}
`)
	writeFile(t, filepath.Join(root, "app", "main.go"), `package main

// main starts the billing service and charges invoices.
func main() {
	chargeInvoice("acme")
}

func chargeInvoice(customer string) {}
`)

	ws := workspace.New("test")
	require.NoError(t, ws.AddProject(workspace.Project{
		ID: "lib", Name: "lib", Path: "lib", Type: workspace.TypeLibrary,
	}))
	require.NoError(t, ws.AddProject(workspace.Project{
		ID: "app", Name: "app", Path: "app", Type: workspace.TypeAPIServer,
		Dependencies: []string{"lib"},
	}))
	wsPath := filepath.Join(root, workspace.DefaultFileName)
	require.NoError(t, ws.Save(wsPath))

	st, err := store.Open(filepath.Join(t.TempDir(), "lattice.db"))
	require.NoError(t, err)
	vectors, err := vector.NewHNSWStore(filepath.Join(t.TempDir(), "vectors"))
	require.NoError(t, err)
	embedder := embed.NewStaticEmbedder()

	cfg := config.New()
	cfg.Indexing.Workers = 2
	c, err := cache.New(cfg.Cache, st, nil, slog.Default())
	require.NoError(t, err)
	sessions := session.NewManager(st, slog.Default())

	e, err := New(ctx, cfg, Deps{
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
	return &testEnv{engine: e, root: root, wsPath: wsPath}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func indexAll(t *testing.T, e *Engine) {
	t.Helper()
	failures := e.Initialize(context.Background(), false)
	require.Empty(t, failures)
	_, errs := e.IndexAll(context.Background(), true)
	require.Empty(t, errs)
}

func TestLoadWorkspaceBuildsProjects(t *testing.T) {
	env := newTestEnv(t)
	statuses := env.engine.Statuses()
	assert.Len(t, statuses, 2)
	assert.Contains(t, statuses, "lib")
	assert.Contains(t, statuses, "app")
	assert.Equal(t, workspace.StatusUninitialized, statuses["lib"].Status)
}

func TestInitializeEager(t *testing.T) {
	env := newTestEnv(t)
	failures := env.engine.Initialize(context.Background(), false)
	assert.Empty(t, failures)
	for id, state := range env.engine.Statuses() {
		assert.Equal(t, workspace.StatusReady, state.Status, id)
	}
}

func TestIndexAllParallelAndSequential(t *testing.T) {
	env := newTestEnv(t)
	require.Empty(t, env.engine.Initialize(context.Background(), false))

	summaries, errs := env.engine.IndexAll(context.Background(), true)
	require.Empty(t, errs)
	assert.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries["lib"].FilesIndexed)

	// Sequential re-run skips everything unchanged.
	summaries, errs = env.engine.IndexAll(context.Background(), false)
	require.Empty(t, errs)
	assert.Equal(t, 1, summaries["app"].FilesSkipped)
}

func TestSearchScopes(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	indexAll(t, e)
	ctx := context.Background()

	vec, err := e.deps.Embedder.Embed(ctx, "friendly greeting message for name")
	require.NoError(t, err)

	projects := func(results []query.Result) map[string]bool {
		out := map[string]bool{}
		for _, r := range results {
			out[r.ProjectID] = true
		}
		return out
	}

	hits, err := e.SearchWorkspace(ctx, vec, workspace.ScopeProject, "app", 10)
	require.NoError(t, err)
	assert.False(t, projects(hits)["lib"])

	hits, err = e.SearchWorkspace(ctx, vec, workspace.ScopeDependencies, "app", 10)
	require.NoError(t, err)
	assert.True(t, projects(hits)["lib"])

	hits, err = e.SearchWorkspace(ctx, vec, workspace.ScopeWorkspace, "", 10)
	require.NoError(t, err)
	assert.True(t, projects(hits)["lib"])
	assert.True(t, projects(hits)["app"])
}

func TestResolveTargetsValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.resolveTargets("galaxy", "lib")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, errors.CodeOf(err))

	_, err = env.engine.resolveTargets(workspace.ScopeProject, "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, errors.CodeOf(err))

	_, err = env.engine.resolveTargets(workspace.ScopeProject, "nope")
	require.Error(t, err)
	assert.Equal(t, errors.CodeProjectUnknown, errors.CodeOf(err))
}

func TestSearchPipelineCachesResults(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)
	ctx := context.Background()

	req := query.Request{Query: "find the greeting function", Scope: workspace.ScopeWorkspace, K: 5}
	first, err := env.engine.Search(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)
	assert.False(t, first.FromCache)

	second, err := env.engine.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestSearchWithoutWorkspace(t *testing.T) {
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

	_, err = e.Search(context.Background(), query.Request{Query: "anything"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.CodeOf(err))
}

func TestSearchTemplateKeywordBackend(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)
	ctx := context.Background()

	require.NoError(t, env.engine.Templates().Register(ctx, templates.Template{
		Name:        "billing",
		Description: "invoice charging paths",
		Backend:     templates.BackendKeyword,
		Query:       "charge invoice billing",
	}))

	resp, err := env.engine.SearchTemplate(ctx, TemplateRequest{
		Name:  "billing",
		Scope: workspace.ScopeWorkspace,
		K:     5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "app", resp.Results[0].ProjectID)
	assert.False(t, resp.FromCache)

	again, err := env.engine.SearchTemplate(ctx, TemplateRequest{
		Name:  "billing",
		Scope: workspace.ScopeWorkspace,
		K:     5,
	})
	require.NoError(t, err)
	assert.True(t, again.FromCache)
}

func TestSearchTemplateHybridBackend(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)

	resp, err := env.engine.SearchTemplate(context.Background(), TemplateRequest{
		Name:      "entrypoints",
		Params:    map[string]string{"language": "go"},
		Scope:     workspace.ScopeWorkspace,
		ProjectID: "",
		K:         5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	paths := map[string]bool{}
	for _, r := range resp.Results {
		paths[r.Path] = true
	}
	assert.True(t, paths["main.go"])
}

func TestSearchTemplateUnknownName(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.SearchTemplate(context.Background(), TemplateRequest{Name: "no_such"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, errors.CodeOf(err))
}

func TestAddAndRemoveProject(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "docs", "readme.md"), "# Docs\n\nUsage notes.\n")
	require.NoError(t, e.AddProject(ctx, workspace.Project{
		ID: "docs", Name: "docs", Path: "docs", Type: workspace.TypeDocumentation,
	}))
	assert.Contains(t, e.Statuses(), "docs")

	// The workspace file on disk carries the new project.
	reloaded, err := workspace.Load(env.wsPath)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.Project("docs"))

	require.NoError(t, e.RemoveProject(ctx, "docs", true))
	assert.NotContains(t, e.Statuses(), "docs")

	reloaded, err = workspace.Load(env.wsPath)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Project("docs"))
}

func TestAddProjectRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.AddProject(context.Background(), workspace.Project{
		ID: "lib", Name: "lib2", Path: "lib", Type: workspace.TypeLibrary,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.CodeOf(err))
}

func TestVerifyConsistentWorkspace(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)

	report, err := env.engine.Verify(context.Background())
	require.NoError(t, err)
	assert.Len(t, report, 2)
	assert.True(t, report.OK())
}

func TestVerifyFlagsEmptyCollectionBeforeIndexing(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.engine.Verify(context.Background())
	require.NoError(t, err)
	// Uninitialized projects with no collection are fine.
	assert.True(t, report.OK())
}

func TestRemoveUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.RemoveProject(context.Background(), "ghost", false)
	require.Error(t, err)
	assert.Equal(t, errors.CodeProjectUnknown, errors.CodeOf(err))
}
