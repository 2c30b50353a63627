package mcp

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
	"github.com/latticemcp/lattice/internal/engine"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/internal/store"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

type testEnv struct {
	server *Server
	engine *engine.Engine
	root   string
	wsPath string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestEnv builds a two-project workspace behind a server: app
// depends on lib.
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

// main starts the billing service.
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

	e, err := engine.New(ctx, cfg, engine.Deps{
		Embedder: embedder,
		Vectors:  vectors,
		Store:    st,
		Cache:    c,
		Sessions: sessions,
	})
	require.NoError(t, err)
	require.NoError(t, e.LoadWorkspace(ctx, wsPath))

	srv, err := NewServer(Options{Engine: e, Sessions: sessions, Config: cfg})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = e.Close()
		c.Close()
		_ = vectors.Close()
		_ = st.Close()
		_ = embedder.Close()
	})
	return &testEnv{server: srv, engine: e, root: root, wsPath: wsPath}
}

func indexAll(t *testing.T, e *engine.Engine) {
	t.Helper()
	require.Empty(t, e.Initialize(context.Background(), false))
	_, errs := e.IndexAll(context.Background(), true)
	require.Empty(t, errs)
}

// codeOf unwraps the tool error code reported to clients.
func codeOf(t *testing.T, err error) int {
	t.Helper()
	te, ok := err.(*toolError)
	require.True(t, ok, "expected *toolError, got %T: %v", err, err)
	return te.Code
}

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(Options{})
	require.Error(t, err)
}

func TestLoadTool(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.server.handleLoad(context.Background(), loadInput{Path: env.wsPath})
	require.NoError(t, err)
	assert.Equal(t, "test", out.Name)
	assert.ElementsMatch(t, []string{"app", "lib"}, out.Projects)
}

func TestLoadToolMissingPath(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleLoad(context.Background(), loadInput{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, codeOf(t, err))
}

func TestSaveTool(t *testing.T) {
	env := newTestEnv(t)
	dest := filepath.Join(t.TempDir(), "workspace.json")
	out, err := env.server.handleSave(context.Background(), saveInput{Path: dest})
	require.NoError(t, err)
	assert.Equal(t, dest, out.Path)

	saved, err := workspace.Load(dest)
	require.NoError(t, err)
	assert.Equal(t, "test", saved.Name)
}

func TestIndexToolWholeWorkspace(t *testing.T) {
	env := newTestEnv(t)
	require.Empty(t, env.engine.Initialize(context.Background(), false))

	out, err := env.server.handleIndex(context.Background(), indexInput{})
	require.NoError(t, err)
	require.Len(t, out.Summaries, 2)
	assert.Equal(t, 1, out.Summaries["lib"].FilesIndexed)
	assert.Empty(t, out.Failures)
}

func TestIndexToolSingleProject(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.server.handleIndex(context.Background(), indexInput{ProjectID: "app"})
	require.NoError(t, err)
	require.Contains(t, out.Summaries, "app")
	assert.Equal(t, 1, out.Summaries["app"].FilesIndexed)
}

func TestIndexToolPathsRequireProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleIndex(context.Background(), indexInput{Paths: []string{"**/*.go"}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, codeOf(t, err))
}

func TestStatusTool(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)

	out, err := env.server.handleStatus(context.Background(), statusInput{})
	require.NoError(t, err)
	require.Len(t, out.Projects, 2)
	assert.Equal(t, string(workspace.StatusReady), out.Projects["lib"].Status)

	single, err := env.server.handleStatus(context.Background(), statusInput{ProjectID: "app"})
	require.NoError(t, err)
	require.Len(t, single.Projects, 1)
	assert.Equal(t, 1, single.Projects["app"].FilesIndexed)
}

func TestStatusToolUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleStatus(context.Background(), statusInput{ProjectID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeProjectUnknown, codeOf(t, err))
}

func TestSearchTool(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)

	out, err := env.server.handleSearch(context.Background(), searchInput{
		Query: "friendly greeting message",
		Scope: "workspace",
		K:     5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.NotEmpty(t, out.Fingerprint)
	assert.False(t, out.FromCache)

	again, err := env.server.handleSearch(context.Background(), searchInput{
		Query: "friendly greeting message",
		Scope: "workspace",
		K:     5,
	})
	require.NoError(t, err)
	assert.True(t, again.FromCache)
}

func TestSearchToolWithoutScope(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)

	// No scope and no project id: the workspace default applies.
	out, err := env.server.handleSearch(context.Background(), searchInput{
		Query: "friendly greeting message",
		K:     5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Results)
}

func TestSearchToolEmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleSearch(context.Background(), searchInput{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, codeOf(t, err))
}

func TestSearchToolBadScope(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)
	_, err := env.server.handleSearch(context.Background(), searchInput{Query: "anything", Scope: "galaxy"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, codeOf(t, err))
}

func TestTemplateTool(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)

	out, err := env.server.handleTemplate(context.Background(), templateInput{
		Name:   "entrypoints",
		Params: map[string]string{"language": "go"},
		Scope:  "workspace",
		K:      5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	paths := map[string]bool{}
	for _, r := range out.Results {
		paths[r.Path] = true
	}
	assert.True(t, paths["main.go"])
}

func TestTemplateToolUnknownName(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleTemplate(context.Background(), templateInput{Name: "no_such"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, codeOf(t, err))
}

func TestContextUpdateTool(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.server.handleContextUpdate(context.Background(), contextUpdateInput{
		UserID: "dev1",
		Event:  "file_opened",
		Path:   "lib/greeter.go",
	})
	require.NoError(t, err)
	assert.Equal(t, "dev1", out.UserID)
	assert.Equal(t, "lib/greeter.go", out.CurrentFile)
	assert.Equal(t, 1, out.RecentFiles)
}

func TestContextUpdateToolInvalidEvent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleContextUpdate(context.Background(), contextUpdateInput{
		UserID: "dev1",
		Event:  "file_teleported",
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, codeOf(t, err))
}

func TestContextUpdateFileEditInvalidatesCachedSearch(t *testing.T) {
	env := newTestEnv(t)
	indexAll(t, env.engine)
	ctx := context.Background()

	in := searchInput{Query: "greeting message", Scope: "workspace", K: 5}
	first, err := env.server.handleSearch(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)

	cached, err := env.server.handleSearch(ctx, in)
	require.NoError(t, err)
	require.True(t, cached.FromCache)

	_, err = env.server.handleContextUpdate(ctx, contextUpdateInput{
		UserID: "dev1",
		Event:  "file_edited",
		Path:   first.Results[0].Path,
	})
	require.NoError(t, err)

	fresh, err := env.server.handleSearch(ctx, in)
	require.NoError(t, err)
	assert.False(t, fresh.FromCache)
}

func TestContextUpdateToolWithoutSessions(t *testing.T) {
	env := newTestEnv(t)
	srv, err := NewServer(Options{Engine: env.engine})
	require.NoError(t, err)

	_, err = srv.handleContextUpdate(context.Background(), contextUpdateInput{
		UserID: "dev1",
		Event:  "file_opened",
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeBadRequest, codeOf(t, err))
}

func TestDiscoverTool(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "svc", "go.mod"), "module example.com/svc\n")
	writeFile(t, filepath.Join(root, "svc", "main.go"), "package main\n\nfunc main() {}\n")

	out, err := env.server.handleDiscover(context.Background(), discoverInput{Root: root})
	require.NoError(t, err)
	require.Len(t, out.Projects, 1)
	assert.Equal(t, "svc", out.Projects[0].ID)
	assert.NotEmpty(t, out.Config)
}

func TestDiscoverToolMissingRoot(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleDiscover(context.Background(), discoverInput{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParams, codeOf(t, err))
}

func TestMapErrPassesThroughDomainCodes(t *testing.T) {
	err := mapErr(errors.ProjectBusy("lib"))
	assert.Equal(t, errors.CodeProjectBusy, codeOf(t, err))

	err = mapErr(os.ErrNotExist)
	assert.Equal(t, errors.CodeInternal, codeOf(t, err))

	assert.NoError(t, mapErr(nil))
}
