package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticemcp/lattice/internal/workspace"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()

	want := []string{"serve", "index", "search", "discover", "status", "validate", "graph", "version"}
	have := map[string]bool{}
	for _, sub := range root.Commands() {
		have[sub.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing subcommand %s", name)
	}
}

func TestRootVersionFlag(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "lattice version")
}

func TestParseParams(t *testing.T) {
	assert.Nil(t, parseParams(nil))
	assert.Equal(t, map[string]string{"language": "go", "name": "x=y"},
		parseParams([]string{"language=go", "name=x=y", "malformed"}))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "hello", firstLine("  hello\nworld"))
	assert.Equal(t, "", firstLine("   "))
}

func TestValidateCommand(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))

	ws := workspace.New("test")
	require.NoError(t, ws.AddProject(workspace.Project{
		ID: "lib", Name: "lib", Path: "lib", Type: workspace.TypeLibrary,
	}))
	path := filepath.Join(root, workspace.DefaultFileName)
	require.NoError(t, ws.Save(path))

	cmd := NewRootCmd()
	cmd.SetArgs([]string{"validate", path})
	require.NoError(t, cmd.Execute())
}

func TestValidateCommandMissingFile(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate", filepath.Join(t.TempDir(), "nope.json")})
	require.Error(t, cmd.Execute())
}

func TestDiscoverCommandSave(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "svc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "svc", "go.mod"), []byte("module example.com/svc\n"), 0o644))

	cmd := NewRootCmd()
	cmd.SetArgs([]string{"discover", root, "--save"})
	require.NoError(t, cmd.Execute())

	saved, err := workspace.Load(filepath.Join(root, workspace.DefaultFileName))
	require.NoError(t, err)
	assert.NotNil(t, saved.Project("svc"))
}

func TestDiscoverCommandRefusesOverwrite(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "svc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "svc", "go.mod"), []byte("module example.com/svc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, workspace.DefaultFileName), []byte("{}"), 0o644))

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"discover", root, "--save"})
	require.Error(t, cmd.Execute())
}
