package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunModelView(t *testing.T) {
	tr := NewRunTracker()
	tr.Update(ProjectEvent{ProjectID: "api", Phase: PhaseDone, FilesIndexed: 7, FilesSkipped: 1})
	tr.Update(ProjectEvent{ProjectID: "web", Phase: PhaseIndexing})

	m := newRunModel(tr, "acme")
	m.styles = NoColorStyles()

	view := m.View()
	assert.Contains(t, view, "lattice index")
	assert.Contains(t, view, "acme")
	assert.Contains(t, view, "api")
	assert.Contains(t, view, "7 files, 1 unchanged")
	assert.Contains(t, view, "1/2 projects")
}

func TestRunModelComplete(t *testing.T) {
	m := newRunModel(NewRunTracker(), "")
	m.styles = NoColorStyles()

	model, cmd := m.Update(completeMsg(WorkspaceStats{
		Projects: 2, Files: 20, Skipped: 4, Duration: 3 * time.Second,
	}))
	require.NotNil(t, cmd)

	view := model.View()
	assert.Contains(t, view, "Indexing complete")
	assert.Contains(t, view, "2 projects, 20 files indexed, 4 unchanged")
}

func TestRunModelQuitKey(t *testing.T) {
	m := newRunModel(NewRunTracker(), "")
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", model.View())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "450ms", formatDuration(450*time.Millisecond))
	assert.Equal(t, "12.3s", formatDuration(12300*time.Millisecond))
	assert.Equal(t, "1m05s", formatDuration(65*time.Second))
}
