package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRendererFallsBackToPlain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(Config{Output: &buf})
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok, "buffer output should select the plain renderer")
}

func TestNewRendererForcePlain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(Config{Output: &buf, ForcePlain: true})
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestPhaseStrings(t *testing.T) {
	tests := []struct {
		phase Phase
		str   string
		label string
	}{
		{PhaseQueued, "queued", "WAIT"},
		{PhaseIndexing, "indexing", "RUN"},
		{PhaseDone, "done", "DONE"},
		{PhaseFailed, "failed", "FAIL"},
		{Phase(99), "unknown", "???"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.str, tt.phase.String())
		assert.Equal(t, tt.label, tt.phase.Label())
	}
}

func TestNewTUIRendererRejectsNonTTY(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewTUIRenderer(Config{Output: &buf})
	require.Error(t, err)
}
