// Package ui renders indexing progress and workspace status for the
// CLI. Interactive terminals get a bubbletea TUI with per-project
// rows; pipes and CI get line-oriented plain text.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Phase is where a project currently sits in an indexing run.
type Phase int

const (
	// PhaseQueued means the project is waiting its turn.
	PhaseQueued Phase = iota
	// PhaseIndexing means the project's pipeline is running.
	PhaseIndexing
	// PhaseDone means the project finished cleanly.
	PhaseDone
	// PhaseFailed means the project's run aborted.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseIndexing:
		return "indexing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Label returns the bracketed tag used in plain output.
func (p Phase) Label() string {
	switch p {
	case PhaseQueued:
		return "WAIT"
	case PhaseIndexing:
		return "RUN"
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "FAIL"
	default:
		return "???"
	}
}

// ProjectEvent is one progress update for one project.
type ProjectEvent struct {
	ProjectID    string
	Phase        Phase
	FilesIndexed int
	FilesSkipped int
	Message      string
}

// ProjectError is a non-fatal problem surfaced during a run.
type ProjectError struct {
	ProjectID string
	Path      string
	Err       error
}

// WorkspaceStats summarizes a whole indexing run.
type WorkspaceStats struct {
	Projects int
	Failed   int
	Files    int
	Skipped  int
	Errors   int
	Duration time.Duration
}

// Renderer is the progress display surface the index command drives.
type Renderer interface {
	Start(ctx context.Context) error
	Update(event ProjectEvent)
	Error(event ProjectError)
	Complete(stats WorkspaceStats)
	Stop() error
}

// Config selects output and rendering mode.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Workspace name shown in the TUI header.
	Workspace string
}

// NewRenderer picks the renderer for the environment: TUI on
// interactive terminals, plain text for pipes, CI and --plain.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether a CI environment variable is present.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
