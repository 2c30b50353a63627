package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() StatusReport {
	return StatusReport{
		Workspace: "acme",
		Embedder:  "static (256 dims)",
		Projects: []ProjectStatus{
			{ProjectID: "web", Status: "ready", FilesIndexed: 42, LastFullScan: time.Now().Add(-2 * time.Minute)},
			{ProjectID: "api", Status: "failed", Errors: 3},
		},
	}
}

func TestStatusRendererTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)
	require.NoError(t, r.Render(sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "Workspace: acme")
	assert.Contains(t, out, "PROJECT")
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "2 minutes ago")
	assert.Contains(t, out, "never")

	// Sorted by project id: api before web.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("api")), bytes.Index(buf.Bytes(), []byte("web")))
}

func TestStatusRendererJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)
	require.NoError(t, r.RenderJSON(sampleReport()))

	var decoded StatusReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "acme", decoded.Workspace)
	assert.Len(t, decoded.Projects, 2)
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatAge(now))
	assert.Equal(t, "1 minute ago", formatAge(now.Add(-time.Minute)))
	assert.Equal(t, "3 hours ago", formatAge(now.Add(-3*time.Hour)))
	assert.Equal(t, "2 days ago", formatAge(now.Add(-48*time.Hour)))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "3.0 GB", FormatBytes(3*1024*1024*1024))
}
