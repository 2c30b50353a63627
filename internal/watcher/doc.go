// Package watcher delivers debounced, gitignore-filtered change events
// for a project tree.
//
// HybridWatcher prefers fsnotify and falls back to interval polling on
// filesystems where inotify is unavailable. Raw events pass through a
// per-path debouncer so editor save storms and git checkouts reach
// consumers as a single batch. Modifications to .gitignore or the
// engine config surface as dedicated operations so the indexer can
// reconcile instead of reindexing file by file.
package watcher
