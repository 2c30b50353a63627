package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by rescanning the tree on an interval
// and diffing mtime and size against the previous pass. It is the
// fallback for filesystems where inotify does not work (network mounts,
// some container overlays).
type PollingWatcher struct {
	interval time.Duration
	root     string

	mu        sync.RWMutex
	snapshots map[string]pollStat
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	stopped   bool
}

type pollStat struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval:  interval,
		snapshots: make(map[string]pollStat),
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start takes a baseline scan, then diffs on every tick until Stop or
// ctx cancellation.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.root = abs

	p.mu.Lock()
	p.snapshots, err = p.walk(nil)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("baseline scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diff(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// walk snapshots the tree. When emit is non-nil it is called for every
// entry that is new or changed relative to the previous snapshots.
func (p *PollingWatcher) walk(emit func(rel string, cur pollStat)) (map[string]pollStat, error) {
	seen := make(map[string]pollStat, len(p.snapshots))
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			// Unreadable entries drop out of the snapshot and surface as
			// deletes once they stay unreadable.
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		cur := pollStat{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		seen[rel] = cur
		if emit != nil {
			emit(rel, cur)
		}
		return nil
	})
	return seen, err
}

func (p *PollingWatcher) diff() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen, err := p.walk(func(rel string, cur pollStat) {
		prev, known := p.snapshots[rel]
		switch {
		case !known:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, IsDir: cur.isDir, Timestamp: time.Now()})
		case prev.modTime != cur.modTime || prev.size != cur.size:
			p.emit(FileEvent{Path: rel, Operation: OpModify, IsDir: cur.isDir, Timestamp: time.Now()})
		}
	})
	if err != nil {
		return fmt.Errorf("walk for changes: %w", err)
	}

	for rel, prev := range p.snapshots {
		if _, still := seen[rel]; !still {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: prev.isDir, Timestamp: time.Now()})
		}
	}
	p.snapshots = seen
	return nil
}

// emit requires p.mu held.
func (p *PollingWatcher) emit(ev FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- ev:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			"path", ev.Path, "op", ev.Operation.String())
	}
}

// Stop halts polling and closes both channels. Safe to call more than
// once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
