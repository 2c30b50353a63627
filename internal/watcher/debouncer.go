package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of events for the same path into one.
// Editors and git checkouts touch files many times in quick succession;
// without coalescing every save would trigger a reindex.
//
// Merge rules per path within one window:
//
//	create+modify -> create
//	create+delete -> dropped entirely
//	modify+delete -> delete
//	delete+create -> modify (the file was replaced)
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	byPath  map[string]*debounceEntry
	timer   *time.Timer
	out     chan []FileEvent
	stopped bool
}

type debounceEntry struct {
	event   FileEvent
	firstOp Operation
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		byPath: make(map[string]*debounceEntry),
		out:    make(chan []FileEvent, 10),
	}
}

// Add folds an event into the pending set and (re)arms the flush timer.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	entry, ok := d.byPath[ev.Path]
	if !ok {
		d.byPath[ev.Path] = &debounceEntry{event: ev, firstOp: ev.Operation}
		d.armLocked()
		return
	}

	merged, keep := mergeEvents(entry.firstOp, entry.event, ev)
	if !keep {
		delete(d.byPath, ev.Path)
	} else {
		entry.event = merged
	}
	d.armLocked()
}

// mergeEvents applies the coalescing rules. keep=false means the pair
// cancelled out.
func mergeEvents(firstOp Operation, old, next FileEvent) (FileEvent, bool) {
	switch firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			// Still a brand new file to the consumer.
			return old, true
		case OpDelete:
			return FileEvent{}, false
		}
	case OpDelete:
		if next.Operation == OpCreate {
			next.Operation = OpModify
			return next, true
		}
	}
	return next, true
}

func (d *Debouncer) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.byPath) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.byPath))
	for _, entry := range d.byPath {
		batch = append(batch, entry.event)
	}
	d.byPath = make(map[string]*debounceEntry)

	select {
	case d.out <- batch:
	default:
		slog.Warn("debouncer output full, dropping batch", "batch_size", len(batch))
	}
}

// Output delivers coalesced batches, one per elapsed window.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.out
}

// Stop closes the output channel. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
