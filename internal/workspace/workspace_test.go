package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func fullWorkspace() *Workspace {
	return &Workspace{
		Version: "2.1.0",
		Name:    "acme",
		Projects: []Project{
			{
				ID:           "web",
				Name:         "Web Frontend",
				Path:         "web",
				Type:         TypeWebFrontend,
				Languages:    []string{"typescript"},
				Dependencies: []string{"api"},
				Indexing:     IndexingConfig{Enabled: boolPtr(true), Priority: PriorityHigh, Exclude: []string{"dist/**"}},
				Metadata:     map[string]any{"team": "frontend"},
			},
			{
				ID:       "api",
				Name:     "API Server",
				Path:     "api",
				Type:     TypeAPIServer,
				Indexing: IndexingConfig{Enabled: boolPtr(true), Priority: PriorityCritical},
			},
			{
				ID:       "docs",
				Name:     "Docs",
				Path:     "docs",
				Type:     TypeDocumentation,
				Indexing: IndexingConfig{Enabled: boolPtr(false), Priority: PriorityLow},
			},
		},
		Relationships: []Relationship{
			{FromID: "web", ToID: "api", Type: RelAPIClient, Weight: 0.9, Description: "REST calls"},
			{FromID: "api", ToID: "docs", Type: RelSemanticSimilarity, Weight: 0.4},
		},
		Search: SearchConfig{DefaultScope: ScopeWorkspace, CrossProjectRanking: true, RelationshipBoost: 1.5},
	}
}

func writeWorkspace(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ws := fullWorkspace()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, ws.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	// Compare the serialized forms: every field was set, so the documents
	// must match byte for byte.
	orig, err := json.MarshalIndent(ws, "", "  ")
	require.NoError(t, err)
	again, err := json.MarshalIndent(loaded, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, string(orig), string(again))
}

func TestSaveWritesLFTwoSpaceIndent(t *testing.T) {
	dir := t.TempDir()
	ws := fullWorkspace()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, ws.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasSuffix(text, "\n"), "file should be LF terminated")
	assert.NotContains(t, text, "\r\n")
	assert.Contains(t, text, "\n  \"version\"")
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "api"), 0o755))
	path := writeWorkspace(t, dir, `{
  "version": "2.0.0",
  "name": "acme",
  "projects": [
    {"id": "api", "name": "API", "path": "api", "type": "api_server", "indexing": {}}
  ]
}`)

	ws, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "api", ws.Projects[0].Path, "raw path preserved for round-trips")
	assert.Equal(t, filepath.Join(dir, "api"), ws.Projects[0].AbsPath)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspace(t, dir, `{"version": "2.0.0", "name": "w", "projects": [], "surprise": true}`)

	_, err := Load(path)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindSchema, verr.Kind)
}

func TestLoadAllowsArbitraryMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspace(t, dir, `{
  "version": "2.0.0",
  "name": "w",
  "projects": [
    {"id": "p", "name": "P", "path": ".", "type": "library",
     "metadata": {"anything": ["goes", 42], "nested": {"deep": true}}}
  ]
}`)

	ws, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, ws.Projects[0].Metadata, "anything")
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspace(t, dir, `{"version": "2.0.0",`)

	_, err := Load(path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindMalformed, verr.Kind)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspace(t, dir, `{
  "version": "2.0.0",
  "name": "w",
  "projects": [
    {"id": "p", "name": "P", "path": ".", "type": "library", "indexing": {}}
  ]
}`)

	ws, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ScopeWorkspace, ws.Search.DefaultScope)
	assert.InDelta(t, 1.5, ws.Search.RelationshipBoost, 1e-9)
	assert.Equal(t, PriorityMedium, ws.Projects[0].Indexing.Priority)
	assert.True(t, ws.Projects[0].Indexing.IsEnabled())
}

func TestValidateKinds(t *testing.T) {
	base := func() *Workspace {
		ws := fullWorkspace()
		ws.applyDefaults()
		return ws
	}

	tests := []struct {
		name   string
		mutate func(*Workspace)
		kind   Kind
	}{
		{"bad version", func(w *Workspace) { w.Version = "2.0" }, KindSchema},
		{"empty name", func(w *Workspace) { w.Name = "" }, KindSchema},
		{"bad project id", func(w *Workspace) { w.Projects[0].ID = "web-app" }, KindSchema},
		{"duplicate id", func(w *Workspace) { w.Projects[1].ID = "web" }, KindDuplicateID},
		{"bad type", func(w *Workspace) { w.Projects[0].Type = "desktop" }, KindSchema},
		{"bad priority", func(w *Workspace) { w.Projects[0].Indexing.Priority = "urgent" }, KindSchema},
		{"unknown dependency", func(w *Workspace) { w.Projects[0].Dependencies = []string{"ghost"} }, KindUnknownReference},
		{"self dependency", func(w *Workspace) { w.Projects[0].Dependencies = []string{"web"} }, KindSelfReference},
		{"unknown relationship endpoint", func(w *Workspace) { w.Relationships[0].ToID = "ghost" }, KindUnknownReference},
		{"self relationship", func(w *Workspace) { w.Relationships[0].ToID = "web" }, KindSelfReference},
		{"bad relationship type", func(w *Workspace) { w.Relationships[0].Type = "friends" }, KindSchema},
		{"weight out of range", func(w *Workspace) { w.Relationships[0].Weight = 1.5 }, KindSchema},
		{"bad scope", func(w *Workspace) { w.Search.DefaultScope = "galaxy" }, KindSchema},
		{"boost out of range", func(w *Workspace) { w.Search.RelationshipBoost = 5.0 }, KindSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := base()
			tt.mutate(ws)
			err := ws.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.kind, verr.Kind)
		})
	}
}

func TestValidateDetectsDependencyCycle(t *testing.T) {
	ws := &Workspace{
		Version: "2.0.0",
		Name:    "w",
		Projects: []Project{
			{ID: "a", Name: "A", Path: "a", Type: TypeLibrary, Dependencies: []string{"b"}},
			{ID: "b", Name: "B", Path: "b", Type: TypeLibrary, Dependencies: []string{"c"}},
			{ID: "c", Name: "C", Path: "c", Type: TypeLibrary, Dependencies: []string{"a"}},
		},
	}
	ws.applyDefaults()

	err := ws.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindCycle, verr.Kind)

	msg := verr.Error()
	assert.Contains(t, msg, " -> ")
	for _, id := range []string{"a", "b", "c"} {
		assert.Contains(t, msg, id)
	}
	require.NotEmpty(t, verr.Cycle)
	assert.Equal(t, verr.Cycle[0], verr.Cycle[len(verr.Cycle)-1], "cycle path should close on itself")
}

func TestRelationshipCyclesAreAllowed(t *testing.T) {
	ws := &Workspace{
		Version: "2.0.0",
		Name:    "w",
		Projects: []Project{
			{ID: "a", Name: "A", Path: "a", Type: TypeLibrary},
			{ID: "b", Name: "B", Path: "b", Type: TypeLibrary},
		},
		Relationships: []Relationship{
			{FromID: "a", ToID: "b", Type: RelEventDriven, Weight: 0.5},
			{FromID: "b", ToID: "a", Type: RelEventDriven, Weight: 0.5},
		},
	}
	ws.applyDefaults()
	assert.NoError(t, ws.Validate())
}

func TestDependencyTypedRelationshipJoinsCycleCheck(t *testing.T) {
	ws := &Workspace{
		Version: "2.0.0",
		Name:    "w",
		Projects: []Project{
			{ID: "a", Name: "A", Path: "a", Type: TypeLibrary, Dependencies: []string{"b"}},
			{ID: "b", Name: "B", Path: "b", Type: TypeLibrary},
		},
		Relationships: []Relationship{
			{FromID: "b", ToID: "a", Type: RelDependency, Weight: 1.0},
		},
	}
	ws.applyDefaults()

	err := ws.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindCycle, verr.Kind)
}

func TestValidateCheckPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "real"), 0o755))

	ws := &Workspace{
		Version: "2.0.0",
		Name:    "w",
		Projects: []Project{
			{ID: "real", Name: "Real", Path: filepath.Join(dir, "real"), Type: TypeLibrary},
			{ID: "ghost", Name: "Ghost", Path: filepath.Join(dir, "ghost"), Type: TypeLibrary},
		},
	}
	ws.applyDefaults()
	ws.resolvePaths(dir)

	assert.NoError(t, ws.Validate())

	err := ws.ValidateWith(ValidateOptions{CheckPaths: true})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindMissingPath, verr.Kind)
}

func TestDependenciesTransitive(t *testing.T) {
	ws := &Workspace{
		Version: "2.0.0",
		Name:    "w",
		Projects: []Project{
			{ID: "app", Name: "App", Path: "app", Type: TypeApplication, Dependencies: []string{"lib1"}},
			{ID: "lib1", Name: "L1", Path: "lib1", Type: TypeLibrary, Dependencies: []string{"lib2"}},
			{ID: "lib2", Name: "L2", Path: "lib2", Type: TypeLibrary},
			{ID: "other", Name: "O", Path: "other", Type: TypeLibrary},
		},
	}
	ws.applyDefaults()
	require.NoError(t, ws.Validate())

	assert.Equal(t, []string{"lib1"}, ws.Dependencies("app", false))
	assert.Equal(t, []string{"lib1", "lib2"}, ws.Dependencies("app", true))
	assert.Empty(t, ws.Dependencies("lib2", true))
	assert.Nil(t, ws.Dependencies("ghost", true))

	assert.Equal(t, []string{"app"}, ws.Dependents("lib1"))
	assert.Equal(t, []string{"lib1"}, ws.Dependents("lib2"))
}

func TestRelationshipsOfAndNeighbours(t *testing.T) {
	ws := fullWorkspace()

	all := ws.RelationshipsOf("", "")
	assert.Len(t, all, 2)

	apiEdges := ws.RelationshipsOf("api", "")
	assert.Len(t, apiEdges, 2)

	clients := ws.RelationshipsOf("", RelAPIClient)
	require.Len(t, clients, 1)
	assert.Equal(t, "web", clients[0].FromID)

	assert.Equal(t, []string{"docs", "web"}, ws.Neighbours("api"))
}

func TestAddRemoveProject(t *testing.T) {
	ws := fullWorkspace()

	err := ws.AddProject(Project{ID: "web", Name: "Dup", Path: "x", Type: TypeLibrary})
	require.Error(t, err)

	require.NoError(t, ws.AddProject(Project{ID: "worker", Name: "Worker", Path: "worker", Type: TypeApplication}))
	assert.NotNil(t, ws.Project("worker"))
	assert.Equal(t, PriorityMedium, ws.Project("worker").Indexing.Priority)

	assert.True(t, ws.RemoveProject("api"))
	assert.Nil(t, ws.Project("api"))
	assert.Empty(t, ws.RelationshipsOf("api", ""))
	assert.NotContains(t, ws.Project("web").Dependencies, "api")
	assert.False(t, ws.RemoveProject("api"), "second removal should report false")
}

func TestEnabledProjects(t *testing.T) {
	ws := fullWorkspace()
	enabled := ws.EnabledProjects()
	require.Len(t, enabled, 2)
	for _, p := range enabled {
		assert.NotEqual(t, "docs", p.ID)
	}
}

func TestFindWalksUp(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	writeWorkspace(t, dir, `{"version": "2.0.0", "name": "w", "projects": []}`)

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultFileName), found)
}

func TestEmptyWorkspaceLoads(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkspace(t, dir, `{"version": "2.0.0", "name": "W", "projects": [], "relationships": []}`)

	ws, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, ws.Projects)
	assert.NoError(t, ws.Validate())
}
