package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, suitable for pipes and CI
// logs.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ProjectError
}

// NewPlainRenderer creates a line-oriented renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// Update implements Renderer.
func (r *PlainRenderer) Update(event ProjectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Phase {
	case PhaseDone:
		_, _ = fmt.Fprintf(r.out, "[%s] %s: %d files indexed, %d unchanged\n",
			event.Phase.Label(), event.ProjectID, event.FilesIndexed, event.FilesSkipped)
	case PhaseFailed:
		_, _ = fmt.Fprintf(r.out, "[%s] %s: %s\n", event.Phase.Label(), event.ProjectID, event.Message)
	default:
		if event.Message != "" {
			_, _ = fmt.Fprintf(r.out, "[%s] %s: %s\n", event.Phase.Label(), event.ProjectID, event.Message)
		} else {
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Phase.Label(), event.ProjectID)
		}
	}
}

// Error implements Renderer.
func (r *PlainRenderer) Error(event ProjectError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)
	if event.Path != "" {
		_, _ = fmt.Fprintf(r.out, "WARN: %s: %s: %v\n", event.ProjectID, event.Path, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "WARN: %s: %v\n", event.ProjectID, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats WorkspaceStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Indexed %d projects in %s: %d files, %d unchanged",
		stats.Projects, stats.Duration.Round(100*time.Millisecond), stats.Files, stats.Skipped)
	if stats.Failed > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d failed", stats.Failed)
	}
	if stats.Errors > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d errors", stats.Errors)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

// Errors returns the warnings collected during the run.
func (r *PlainRenderer) Errors() []ProjectError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProjectError, len(r.errors))
	copy(out, r.errors)
	return out
}
