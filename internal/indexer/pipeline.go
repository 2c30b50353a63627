package indexer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticemcp/lattice/internal/chunk"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/keyword"
	"github.com/latticemcp/lattice/internal/scanner"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

// Summary is the outcome of one Index run.
type Summary struct {
	FilesIndexed int      `json:"files_indexed"`
	FilesSkipped int      `json:"files_skipped"`
	Errors       []string `json:"errors,omitempty"`
	Duration     string   `json:"duration"`
}

// snippetLimit bounds the payload snippet stored per chunk.
const snippetLimit = 200

// fileResult is one file's pipeline output.
type fileResult struct {
	path     string
	hash     string
	entries  []vector.Entry
	docs     []keyword.Document
	chunkIDs []string
	skipped  bool
}

// runStats accumulates collector-side counters for one run. vecSum and
// vecCount feed the project centroid, over freshly embedded chunks only.
type runStats struct {
	indexed  int
	skipped  int
	vecSum   []float64
	vecCount int
}

// Index runs an incremental index over the project. With globs only
// matching paths are considered; without, the whole tree is scanned and
// files missing from disk are pruned. Files whose content hash matches
// the stored state are skipped. A concurrent run on the same project,
// in this process or another, returns code 1003.
func (i *Indexer) Index(ctx context.Context, globs ...string) (*Summary, error) {
	release, err := i.acquireLocks()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	i.setStatus(ctx, workspace.StatusIndexing, "")
	i.logger.Info("index started", "globs", globs)

	summary, newPerFile, stats, err := i.run(ctx, globs)
	if err != nil {
		i.setStatus(ctx, workspace.StatusFailed, err.Error())
		i.logger.Error("index failed", "error", err)
		return nil, err
	}

	fullScan := len(globs) == 0
	i.mu.Lock()
	i.state.Status = workspace.StatusReady
	i.state.PerFile = newPerFile
	i.state.FilesIndexed = len(newPerFile)
	if fullScan && stats.skipped == 0 {
		// A complete re-embed replaces the centroid outright.
		i.state.Centroid, i.state.ChunkCount = centroidOf(stats.vecSum, stats.vecCount)
	} else if stats.vecCount > 0 {
		i.state.Centroid, i.state.ChunkCount = mergeCentroid(
			i.state.Centroid, i.state.ChunkCount, stats.vecSum, stats.vecCount)
	}
	if fullScan {
		i.state.LastFullScanTS = time.Now().UTC()
	}
	for _, msg := range summary.Errors {
		i.state.Errors = appendBounded(i.state.Errors, msg)
	}
	state := i.state
	i.mu.Unlock()

	if i.st != nil {
		err = i.st.Transaction(ctx, func(tx *sql.Tx) error {
			return i.st.SaveIndexingStateTx(ctx, tx, i.project.ID, state)
		})
		if err != nil {
			i.logger.Warn("persisting indexing state failed", "error", err)
		}
	}

	summary.Duration = time.Since(start).Round(time.Millisecond).String()
	i.logger.Info("index complete",
		"indexed", summary.FilesIndexed,
		"skipped", summary.FilesSkipped,
		"errors", len(summary.Errors),
		"duration", summary.Duration)
	return summary, nil
}

// run executes the bounded pipeline and returns the summary, the new
// per-file hash map and the collector stats.
func (i *Indexer) run(ctx context.Context, globs []string) (*Summary, map[string]string, *runStats, error) {
	prior := i.Status().PerFile
	if prior == nil {
		prior = map[string]string{}
	}

	var maxSize int64
	if i.cfg.MaxFileSizeMB > 0 {
		maxSize = int64(i.cfg.MaxFileSizeMB) * 1024 * 1024
	}
	results, err := i.scan.Scan(ctx, scanner.Options{
		Root:             i.project.AbsPath,
		IncludeGlobs:     globs,
		ExcludeGlobs:     i.project.Indexing.Exclude,
		RespectGitignore: true,
		MaxFileSize:      maxSize,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	capacity := i.cfg.ChannelCapacity
	if capacity <= 0 {
		capacity = 64
	}
	workers := i.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	fileCh := make(chan *scanner.FileRecord, capacity)
	outCh := make(chan fileResult, capacity)

	var warnMu sync.Mutex
	var warnings []string
	warn := func(path string, err error) {
		i.logger.Warn("skipping file", "path", path, "error", err)
		warnMu.Lock()
		warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
		warnMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Producer: stream scan results into the bounded queue.
	g.Go(func() error {
		defer close(fileCh)
		for r := range results {
			if r.Err != nil {
				warn("", r.Err)
				continue
			}
			select {
			case fileCh <- r.File:
			case <-gctx.Done():
				// Drain so the scanner goroutine can exit.
				for range results {
				}
				return gctx.Err()
			}
		}
		return nil
	})

	// Workers: read, hash, chunk and embed one file at a time.
	// Cancellation is honored between files, never mid-file.
	var workerWG sync.WaitGroup
	for w := 0; w < workers; w++ {
		workerWG.Add(1)
		g.Go(func() error {
			defer workerWG.Done()
			for f := range fileCh {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := i.indexFile(gctx, f, prior)
				if err != nil {
					if isFatal(err) {
						return err
					}
					warn(f.Path, err)
					continue
				}
				select {
				case outCh <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workerWG.Wait()
		close(outCh)
	}()

	// Collector: batch upserts by size B or flush interval T, and track
	// the new per-file state.
	newPerFile := make(map[string]string)
	stats := &runStats{}
	g.Go(func() error {
		return i.collect(gctx, outCh, newPerFile, stats)
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	// A full scan prunes files that vanished from disk.
	if len(globs) == 0 {
		for path := range prior {
			if _, ok := newPerFile[path]; ok {
				continue
			}
			if err := i.pruneFile(ctx, path); err != nil {
				warn(path, fmt.Errorf("pruning deleted file: %w", err))
			}
		}
	} else {
		// Partial runs keep untouched files in the state.
		for path, hash := range prior {
			if _, ok := newPerFile[path]; !ok {
				newPerFile[path] = hash
			}
		}
	}

	return &Summary{
		FilesIndexed: stats.indexed,
		FilesSkipped: stats.skipped,
		Errors:       warnings,
	}, newPerFile, stats, nil
}

// indexFile turns one file into vector entries and keyword documents.
// Returning a fatal error (embedder or vector backend down) aborts the
// whole run; anything else skips just this file.
func (i *Indexer) indexFile(ctx context.Context, f *scanner.FileRecord, prior map[string]string) (fileResult, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return fileResult{}, err
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	if prior[f.Path] == hash {
		return fileResult{path: f.Path, hash: hash, skipped: true}, nil
	}

	chunks, err := i.chunker.Chunk(ctx, &chunk.FileInput{
		ProjectID:   i.project.ID,
		Path:        f.Path,
		Content:     content,
		Language:    f.Language,
		ContentHash: hash,
	})
	if err != nil {
		return fileResult{}, err
	}
	if len(chunks) == 0 {
		return fileResult{path: f.Path, hash: hash}, nil
	}

	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Text
	}
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return fileResult{}, err
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts)
	i.sem.Release(1)
	if err != nil {
		return fileResult{}, errors.EmbedderUnavailable(err)
	}
	if len(vecs) != len(chunks) {
		return fileResult{}, errors.Internal(
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks)), nil)
	}

	res := fileResult{
		path:     f.Path,
		hash:     hash,
		entries:  make([]vector.Entry, len(chunks)),
		docs:     make([]keyword.Document, len(chunks)),
		chunkIDs: make([]string, len(chunks)),
	}
	for n, c := range chunks {
		res.entries[n] = vector.Entry{
			ID:     c.ID,
			Vector: vecs[n],
			Payload: vector.Payload{
				ProjectID:   i.project.ID,
				FilePath:    c.FilePath,
				Language:    c.Language,
				SymbolKind:  string(c.SymbolKind),
				SymbolName:  c.SymbolName,
				ByteStart:   c.ByteStart,
				ByteEnd:     c.ByteEnd,
				ContentHash: hash,
				ModTime:     f.ModTime,
				Snippet:     snippet(c.Text),
			},
		}
		res.docs[n] = keyword.Document{ID: c.ID, Path: c.FilePath, Content: c.Text}
		res.chunkIDs[n] = c.ID
	}
	return res, nil
}

// collect drains the pipeline output, flushing batched upserts.
func (i *Indexer) collect(ctx context.Context, outCh <-chan fileResult, newPerFile map[string]string, stats *runStats) error {
	batchSize := i.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 128
	}
	interval := i.cfg.FlushInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	var entries []vector.Entry
	var docs []keyword.Document
	var files []fileResult

	flush := func() error {
		if len(files) == 0 {
			return nil
		}
		if err := i.flushBatch(ctx, entries, docs, files); err != nil {
			return err
		}
		for _, f := range files {
			newPerFile[f.path] = f.hash
		}
		entries, docs, files = nil, nil, nil
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case res, ok := <-outCh:
			if !ok {
				return flush()
			}
			if res.skipped {
				stats.skipped++
				newPerFile[res.path] = res.hash
				continue
			}
			stats.indexed++
			for _, entry := range res.entries {
				stats.addVector(entry.Vector)
			}
			entries = append(entries, res.entries...)
			docs = append(docs, res.docs...)
			files = append(files, res)
			if len(entries) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flushBatch writes one batch to the vector and keyword stores and
// reconciles each file's chunk list, deleting chunks that no longer
// exist in the re-chunked file.
func (i *Indexer) flushBatch(ctx context.Context, entries []vector.Entry, docs []keyword.Document, files []fileResult) error {
	if len(entries) > 0 {
		if err := i.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		err := i.vectors.Upsert(ctx, i.Collection(), entries)
		i.sem.Release(1)
		if err != nil {
			return errors.VectorUnavailable(err)
		}
	}
	if len(docs) > 0 {
		if err := i.keywords.Index(ctx, docs); err != nil {
			return fmt.Errorf("keyword index: %w", err)
		}
	}

	for _, f := range files {
		old, err := i.loadChunkList(ctx, f.path)
		if err != nil {
			i.logger.Warn("loading chunk list failed", "path", f.path, "error", err)
		}
		if stale := diffIDs(old, f.chunkIDs); len(stale) > 0 {
			if err := i.vectors.Delete(ctx, i.Collection(), stale); err != nil {
				return errors.VectorUnavailable(err)
			}
			if err := i.keywords.Delete(ctx, stale); err != nil {
				i.logger.Warn("deleting stale keyword docs failed", "path", f.path, "error", err)
			}
		}
		if err := i.saveChunkList(ctx, f.path, f.chunkIDs); err != nil {
			i.logger.Warn("saving chunk list failed", "path", f.path, "error", err)
		}
	}
	return nil
}

// pruneFile removes every trace of a deleted file from the indexes.
func (i *Indexer) pruneFile(ctx context.Context, path string) error {
	ids, err := i.loadChunkList(ctx, path)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := i.vectors.Delete(ctx, i.Collection(), ids); err != nil {
			return err
		}
		if err := i.keywords.Delete(ctx, ids); err != nil {
			return err
		}
	}
	if i.st != nil {
		return i.st.DeleteKey(ctx, i.chunkListKey(path))
	}
	return nil
}

// isFatal reports whether an error must abort the run instead of
// skipping the file.
func isFatal(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeEmbedderUnavailable, errors.CodeVectorUnavailable, errors.CodeDimensionMismatch:
		return true
	}
	return err == context.Canceled || err == context.DeadlineExceeded
}

func (s *runStats) addVector(vec []float32) {
	if len(vec) == 0 {
		return
	}
	if len(s.vecSum) != len(vec) {
		s.vecSum = make([]float64, len(vec))
		s.vecCount = 0
	}
	for n, v := range vec {
		s.vecSum[n] += float64(v)
	}
	s.vecCount++
}

// centroidOf turns an accumulated sum into a mean vector.
func centroidOf(sum []float64, count int) ([]float32, int) {
	if count == 0 {
		return nil, 0
	}
	out := make([]float32, len(sum))
	for n, v := range sum {
		out[n] = float32(v / float64(count))
	}
	return out, count
}

// mergeCentroid folds freshly embedded chunks into the stored running
// mean, weighted by chunk counts. Contributions of replaced chunks are
// not subtracted; the next full re-embed resets the drift.
func mergeCentroid(old []float32, oldCount int, sum []float64, count int) ([]float32, int) {
	if len(old) != len(sum) || oldCount == 0 {
		return centroidOf(sum, count)
	}
	total := oldCount + count
	out := make([]float32, len(old))
	for n := range old {
		out[n] = float32((float64(old[n])*float64(oldCount) + sum[n]) / float64(total))
	}
	return out, total
}

func snippet(text string) string {
	if len(text) <= snippetLimit {
		return text
	}
	return text[:snippetLimit]
}

func diffIDs(old, current []string) []string {
	if len(old) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}
	var stale []string
	for _, id := range old {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

// Chunk lists map each indexed file to its chunk ids so deletions and
// re-chunks can prune precisely. Stored in the KV table.

func (i *Indexer) chunkListKey(path string) string {
	return "chunks/" + i.project.ID + "/" + path
}

func (i *Indexer) chunkListPrefix() string {
	return "chunks/" + i.project.ID + "/"
}

func (i *Indexer) loadChunkList(ctx context.Context, path string) ([]string, error) {
	if i.st == nil {
		return nil, nil
	}
	blob, err := i.st.Get(ctx, i.chunkListKey(path))
	if err != nil || blob == nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(blob, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (i *Indexer) saveChunkList(ctx context.Context, path string, ids []string) error {
	if i.st == nil {
		return nil
	}
	blob, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return i.st.Put(ctx, i.chunkListKey(path), blob)
}

func (i *Indexer) pruneChunkLists(ctx context.Context) error {
	if i.st == nil {
		return nil
	}
	keys, err := i.st.KeysWithPrefix(ctx, i.chunkListPrefix())
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := i.st.DeleteKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
