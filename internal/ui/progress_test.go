package ui

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTrackerOrderAndStats(t *testing.T) {
	tr := NewRunTracker()

	tr.Update(ProjectEvent{ProjectID: "api", Phase: PhaseIndexing})
	tr.Update(ProjectEvent{ProjectID: "web", Phase: PhaseQueued})
	tr.Update(ProjectEvent{ProjectID: "api", Phase: PhaseDone, FilesIndexed: 10, FilesSkipped: 2})

	projects := tr.Projects()
	require.Len(t, projects, 2)
	assert.Equal(t, "api", projects[0].ProjectID)
	assert.Equal(t, PhaseDone, projects[0].Phase)
	assert.Equal(t, "web", projects[1].ProjectID)

	stats := tr.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, 10, stats.Files)
	assert.Equal(t, 2, stats.Skipped)
	assert.InDelta(t, 0.5, stats.Progress, 1e-9)
}

func TestRunTrackerFailures(t *testing.T) {
	tr := NewRunTracker()
	tr.Update(ProjectEvent{ProjectID: "api", Phase: PhaseFailed, Message: "boom"})

	stats := tr.Stats()
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 1.0, stats.Progress, 1e-9)
}

func TestRunTrackerErrors(t *testing.T) {
	tr := NewRunTracker()
	tr.AddError(ProjectError{ProjectID: "web", Err: errors.New("a")})
	tr.AddError(ProjectError{ProjectID: "api", Err: errors.New("b")})

	assert.Len(t, tr.Errors(), 2)
	assert.Equal(t, 2, tr.Stats().Errors)

	top := tr.TopErrors(1)
	require.Len(t, top, 1)
	assert.Equal(t, "api", top[0].ProjectID)
}

func TestRunTrackerEmpty(t *testing.T) {
	tr := NewRunTracker()
	stats := tr.Stats()
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Progress)
	assert.Empty(t, tr.Projects())
}
