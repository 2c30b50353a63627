package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationString(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{OpGitignoreChange, "GITIGNORE_CHANGE"},
		{OpConfigChange, "CONFIG_CHANGE"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	got := Options{}.WithDefaults()
	assert.Equal(t, DefaultOptions(), got)

	got = Options{DebounceWindow: 500 * time.Millisecond}.WithDefaults()
	assert.Equal(t, 500*time.Millisecond, got.DebounceWindow)
	assert.Equal(t, 5*time.Second, got.PollInterval)
	assert.Equal(t, 1000, got.EventBufferSize)

	custom := Options{
		DebounceWindow:  100 * time.Millisecond,
		PollInterval:    10 * time.Second,
		EventBufferSize: 500,
		IgnorePatterns:  []string{"*.tmp"},
	}
	assert.Equal(t, custom, custom.WithDefaults())
}
