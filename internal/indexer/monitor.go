package indexer

import (
	"context"
	"sync"

	"github.com/latticemcp/lattice/internal/watcher"
)

// monitor consumes watcher batches and feeds them back into the
// indexing pipeline.
type monitor struct {
	w      *watcher.HybridWatcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartMonitoring begins watching the project tree. Each debounced
// batch of changes triggers an incremental Index over the touched
// paths; onChange, when non-nil, receives the affected paths afterwards
// so callers can invalidate caches. Gitignore and config edits trigger
// a full re-scan, since the set of indexable files itself changed.
func (i *Indexer) StartMonitoring(ctx context.Context, onChange func(paths []string)) error {
	i.mu.Lock()
	if i.monitor != nil {
		i.mu.Unlock()
		return nil
	}
	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: i.cfg.WatchDebounce,
		IgnorePatterns: i.project.Indexing.Exclude,
	})
	if err != nil {
		i.mu.Unlock()
		return err
	}
	mctx, cancel := context.WithCancel(ctx)
	m := &monitor{w: w, cancel: cancel}
	i.monitor = m
	i.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := w.Start(mctx, i.project.AbsPath); err != nil && mctx.Err() == nil {
			i.logger.Warn("watcher stopped", "error", err)
		}
	}()
	go func() {
		defer m.wg.Done()
		i.consumeEvents(mctx, w, onChange)
	}()
	i.logger.Info("monitoring started", "mode", w.WatcherType())
	return nil
}

// StopMonitoring stops the watcher and waits for in-flight event
// handling to finish. Safe when monitoring was never started.
func (i *Indexer) StopMonitoring() {
	i.mu.Lock()
	m := i.monitor
	i.monitor = nil
	i.mu.Unlock()
	if m == nil {
		return
	}
	m.cancel()
	_ = m.w.Stop()
	m.wg.Wait()
}

func (i *Indexer) consumeEvents(ctx context.Context, w *watcher.HybridWatcher, onChange func(paths []string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			i.logger.Warn("watcher error", "error", err)
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			paths := i.applyBatch(ctx, batch)
			if len(paths) > 0 && onChange != nil {
				onChange(paths)
			}
		}
	}
}

// applyBatch reindexes changed paths and prunes deleted ones, returning
// every path whose index content may have changed.
func (i *Indexer) applyBatch(ctx context.Context, batch []watcher.FileEvent) []string {
	var changed []string
	var deleted []string
	full := false
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		switch ev.Operation {
		case watcher.OpGitignoreChange, watcher.OpConfigChange:
			full = true
		case watcher.OpDelete:
			deleted = append(deleted, ev.Path)
		case watcher.OpRename:
			if ev.OldPath != "" {
				deleted = append(deleted, ev.OldPath)
			}
			changed = append(changed, ev.Path)
		default:
			changed = append(changed, ev.Path)
		}
	}

	if full {
		if _, err := i.Index(ctx); err != nil {
			i.logger.Warn("reconciliation scan failed", "error", err)
		}
		touched := append(changed, deleted...)
		return touched
	}

	for _, path := range deleted {
		if err := i.pruneFile(ctx, path); err != nil {
			i.logger.Warn("pruning deleted file failed", "path", path, "error", err)
			continue
		}
		i.forgetFile(ctx, path)
	}
	if len(changed) > 0 {
		if _, err := i.Index(ctx, changed...); err != nil {
			i.logger.Warn("incremental index failed", "error", err, "paths", len(changed))
		}
	}
	return append(changed, deleted...)
}

// forgetFile drops a deleted file from the persisted per-file state.
func (i *Indexer) forgetFile(ctx context.Context, path string) {
	i.mu.Lock()
	if _, ok := i.state.PerFile[path]; !ok {
		i.mu.Unlock()
		return
	}
	delete(i.state.PerFile, path)
	i.state.FilesIndexed = len(i.state.PerFile)
	state := i.state
	i.mu.Unlock()
	i.persistState(ctx, state)
}

// Monitoring reports whether change monitoring is active.
func (i *Indexer) Monitoring() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.monitor != nil
}
