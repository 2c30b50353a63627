package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/latticemcp/lattice/internal/gitignore"
)

// engineConfigNames are watched for OpConfigChange events.
var engineConfigNames = map[string]bool{
	".lattice.yaml": true,
	".lattice.yml":  true,
}

// dataDirName is the engine's per-project data directory, never watched.
const dataDirName = ".lattice"

// HybridWatcher watches a project tree with fsnotify, falling back to
// polling where inotify is unavailable (network mounts, some
// containers). Events pass through the debouncer and gitignore
// filtering before reaching consumers.
type HybridWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	gitignore      *gitignore.Matcher
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewHybridWatcher builds a watcher. fsnotify is tried first; when it
// cannot initialize the polling fallback takes over.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		gitignore: baseMatcher(opts.IgnorePatterns),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}
	return h, nil
}

// baseMatcher returns a matcher preloaded with the custom patterns plus
// the always-ignored engine data directory.
func baseMatcher(patterns []string) *gitignore.Matcher {
	m := gitignore.New()
	for _, p := range patterns {
		m.AddPattern(p)
	}
	m.AddPattern(dataDirName + "/")
	m.AddPattern(dataDirName + "/**")
	return m
}

// Start begins watching path recursively. It blocks until Stop is
// called or ctx is cancelled.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	h.rootPath = absPath

	h.loadGitignore()
	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	if err := h.addRecursive(h.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				if h.shouldIgnore(event.Path, event.IsDir) {
					continue
				}
				if special, ok := h.classifySpecial(event.Path); ok {
					h.handleSpecial(event.Path, special)
					continue
				}
				h.debouncer.Add(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.rootPath)
}

// classifySpecial reports whether path is a .gitignore or engine config
// file, whose modification triggers reconciliation instead of a normal
// file event.
func (h *HybridWatcher) classifySpecial(path string) (Operation, bool) {
	base := filepath.Base(path)
	if base == ".gitignore" {
		return OpGitignoreChange, true
	}
	if engineConfigNames[base] {
		return OpConfigChange, true
	}
	return 0, false
}

func (h *HybridWatcher) handleSpecial(relPath string, op Operation) {
	if op == OpGitignoreChange {
		// Reload rules before consumers reconcile against them.
		h.loadGitignore()
	}
	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		Timestamp: time.Now(),
	})
}

func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if h.shouldIgnore(relPath, isDir) {
		return
	}
	if special, ok := h.classifySpecial(event.Name); ok {
		h.handleSpecial(relPath, special)
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories must join the watch set or their contents go
		// unseen.
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and unknown ops carry no content change.
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			h.emitEvents(events)
		}
	}
}

func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		relPath, _ := filepath.Rel(h.rootPath, path)
		if relPath == "." {
			return h.fsWatcher.Add(path)
		}
		if h.shouldIgnoreDir(relPath) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

func (h *HybridWatcher) shouldIgnoreDir(relPath string) bool {
	if relPath == ".git" || strings.HasPrefix(relPath, ".git/") {
		return true
	}
	if relPath == dataDirName || strings.HasPrefix(relPath, dataDirName+"/") {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, true)
}

func (h *HybridWatcher) shouldIgnore(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	if relPath == ".git" || strings.HasPrefix(relPath, ".git/") {
		return true
	}
	if relPath == dataDirName || strings.HasPrefix(relPath, dataDirName+"/") {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, isDir)
}

// loadGitignore rebuilds the matcher from the root and nested .gitignore
// files.
func (h *HybridWatcher) loadGitignore() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gitignore = baseMatcher(h.opts.IgnorePatterns)

	rootIgnore := filepath.Join(h.rootPath, ".gitignore")
	if err := h.gitignore.AddFromFile(rootIgnore, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load root .gitignore",
			slog.String("path", rootIgnore),
			slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(h.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping directory in gitignore scan",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() || d.Name() != ".gitignore" || path == rootIgnore {
			return nil
		}
		base, _ := filepath.Rel(h.rootPath, filepath.Dir(path))
		if err := h.gitignore.AddFromFile(path, base); err != nil {
			slog.Warn("failed to read nested .gitignore",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

func (h *HybridWatcher) emitEvents(events []FileEvent) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

// DroppedBatches reports batches lost to a full event buffer.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop halts watching and closes the event channels. Safe to call more
// than once.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()
	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of debounced event batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of non-fatal watcher errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy reports whether the watcher is still running.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType reports the active mechanism, "fsnotify" or "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the watched root.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
