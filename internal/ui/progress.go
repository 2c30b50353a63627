package ui

import (
	"sort"
	"sync"
	"time"
)

// RunTracker aggregates per-project progress for one indexing run.
// It is safe for concurrent use.
type RunTracker struct {
	mu       sync.RWMutex
	start    time.Time
	projects map[string]ProjectEvent
	order    []string
	errors   []ProjectError
}

// RunStats is a snapshot of the whole run.
type RunStats struct {
	Total    int
	Done     int
	Failed   int
	Active   int
	Files    int
	Skipped  int
	Errors   int
	Progress float64
	Elapsed  time.Duration
}

// NewRunTracker creates a tracker starting now.
func NewRunTracker() *RunTracker {
	return &RunTracker{
		start:    time.Now(),
		projects: make(map[string]ProjectEvent),
	}
}

// Update records a project's latest event. First sight of a project
// fixes its display order.
func (r *RunTracker) Update(event ProjectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.projects[event.ProjectID]; !seen {
		r.order = append(r.order, event.ProjectID)
	}
	r.projects[event.ProjectID] = event
}

// AddError records a warning.
func (r *RunTracker) AddError(event ProjectError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, event)
}

// Projects returns events in first-seen order.
func (r *RunTracker) Projects() []ProjectEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProjectEvent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.projects[id])
	}
	return out
}

// Errors returns recorded warnings, most recent last.
func (r *RunTracker) Errors() []ProjectError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProjectError, len(r.errors))
	copy(out, r.errors)
	return out
}

// Stats returns the run snapshot.
func (r *RunTracker) Stats() RunStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RunStats{
		Total:   len(r.projects),
		Errors:  len(r.errors),
		Elapsed: time.Since(r.start),
	}
	for _, ev := range r.projects {
		switch ev.Phase {
		case PhaseDone:
			stats.Done++
		case PhaseFailed:
			stats.Failed++
		case PhaseIndexing:
			stats.Active++
		}
		stats.Files += ev.FilesIndexed
		stats.Skipped += ev.FilesSkipped
	}
	if stats.Total > 0 {
		stats.Progress = float64(stats.Done+stats.Failed) / float64(stats.Total)
	}
	return stats
}

// TopErrors returns up to n warnings grouped by project, for the
// summary panel.
func (r *RunTracker) TopErrors(n int) []ProjectError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProjectError, len(r.errors))
	copy(out, r.errors)
	sort.SliceStable(out, func(a, b int) bool { return out[a].ProjectID < out[b].ProjectID })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
