package watcher

import "time"

// Operation classifies a file system change.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename

	// OpGitignoreChange and OpConfigChange flag edits to .gitignore or
	// the engine config. Consumers reconcile the whole project against
	// the new rules instead of processing them as ordinary file events.
	OpGitignoreChange
	OpConfigChange
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change, with Path relative to the watched
// root. OldPath is set only for renames.
type FileEvent struct {
	Path      string
	OldPath   string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options tunes watch behavior. Zero values take defaults via
// WithDefaults.
type Options struct {
	// DebounceWindow is how long same-path events coalesce before a
	// batch is emitted.
	DebounceWindow time.Duration

	// PollInterval applies only when the polling fallback is active.
	PollInterval time.Duration

	// EventBufferSize bounds the batch channel; overflowing batches are
	// dropped and counted.
	EventBufferSize int

	// IgnorePatterns extend .gitignore rules, same syntax.
	IgnorePatterns []string
}

func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = def.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = def.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = def.EventBufferSize
	}
	return o
}
