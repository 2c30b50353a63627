// Package indexer owns the per-project indexing lifecycle: the state
// machine, the scan→chunk→embed→upsert pipeline, and change
// monitoring. One Indexer maps to one project and one vector
// collection.
package indexer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/latticemcp/lattice/internal/chunk"
	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/embed"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/keyword"
	"github.com/latticemcp/lattice/internal/scanner"
	"github.com/latticemcp/lattice/internal/store"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

// dataDirName is the per-project directory holding the lock file and
// index artifacts.
const dataDirName = ".lattice"

// Deps are the injected collaborators. All are required except Store
// (nil = state is not persisted) and Logger.
type Deps struct {
	Embedder embed.Embedder
	Vectors  vector.Store
	Keywords *keyword.Index
	Store    *store.Store
	Logger   *slog.Logger

	// Sem caps concurrent embed/upsert work engine-wide. nil means a
	// private semaphore sized from the config.
	Sem *semaphore.Weighted
}

// Indexer drives indexing for a single project.
type Indexer struct {
	project workspace.Project
	cfg     config.IndexingConfig

	embedder embed.Embedder
	vectors  vector.Store
	keywords *keyword.Index
	st       *store.Store
	sem      *semaphore.Weighted
	logger   *slog.Logger

	scan    *scanner.Scanner
	chunker *chunk.Dispatcher

	mu       sync.Mutex
	state    workspace.IndexingState
	indexing bool

	monitor *monitor
}

// New builds an indexer for the project. Persisted state, if any, is
// loaded so an engine restart resumes where it left off.
func New(ctx context.Context, project workspace.Project, cfg config.IndexingConfig, deps Deps) (*Indexer, error) {
	if deps.Embedder == nil || deps.Vectors == nil || deps.Keywords == nil {
		return nil, errors.Internal("indexer requires embedder, vector store and keyword index", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sem := deps.Sem
	if sem == nil {
		n := cfg.GlobalConcurrency
		if n <= 0 {
			n = 8
		}
		sem = semaphore.NewWeighted(int64(n))
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, err
	}

	idx := &Indexer{
		project:  project,
		cfg:      cfg,
		embedder: deps.Embedder,
		vectors:  deps.Vectors,
		keywords: deps.Keywords,
		st:       deps.Store,
		sem:      sem,
		logger:   logger.With("component", "indexer", "project", project.ID),
		scan:     sc,
		chunker:  chunk.NewDispatcher(),
		state:    workspace.IndexingState{Status: workspace.StatusUninitialized},
	}
	if deps.Store != nil {
		state, err := deps.Store.LoadIndexingState(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		// An interrupted run leaves a transient status behind; the
		// collection must be re-verified before serving again.
		switch state.Status {
		case workspace.StatusInitializing, workspace.StatusIndexing:
			state.Status = workspace.StatusUninitialized
		}
		idx.state = state
	}
	return idx, nil
}

// Collection returns the project's vector collection name.
func (i *Indexer) Collection() string {
	return vector.CollectionName(i.project.ID)
}

// Project returns the indexed project.
func (i *Indexer) Project() workspace.Project {
	return i.project
}

// Status returns a copy of the current indexing state.
func (i *Indexer) Status() workspace.IndexingState {
	i.mu.Lock()
	defer i.mu.Unlock()
	state := i.state
	state.Errors = append([]string(nil), i.state.Errors...)
	state.Centroid = append([]float32(nil), i.state.Centroid...)
	if i.state.PerFile != nil {
		state.PerFile = make(map[string]string, len(i.state.PerFile))
		for k, v := range i.state.PerFile {
			state.PerFile[k] = v
		}
	}
	return state
}

// Initialize creates or verifies the project collection. A dimension
// mismatch (the embedder changed) deletes and recreates the collection
// and clears per-file state so the next Index run is full. Allowed from
// every status except indexing.
func (i *Indexer) Initialize(ctx context.Context) error {
	i.mu.Lock()
	if i.indexing || i.state.Status == workspace.StatusIndexing {
		i.mu.Unlock()
		return errors.ProjectBusy(i.project.ID)
	}
	if i.state.Status == workspace.StatusInitializing {
		i.mu.Unlock()
		return errors.ProjectBusy(i.project.ID)
	}
	i.state.Status = workspace.StatusInitializing
	i.mu.Unlock()

	if err := i.initializeCollection(ctx); err != nil {
		i.setStatus(ctx, workspace.StatusFailed, err.Error())
		return err
	}
	i.setStatus(ctx, workspace.StatusReady, "")
	return nil
}

func (i *Indexer) initializeCollection(ctx context.Context) error {
	name := i.Collection()
	dim := i.embedder.Dimensions()

	exists, err := i.vectors.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		got, err := i.vectors.CollectionDimensions(ctx, name)
		if err != nil {
			return err
		}
		if got == dim {
			return nil
		}
		i.logger.Warn("embedding dimension changed, rebuilding collection",
			"collection", name, "stored", got, "embedder", dim)
		if err := i.vectors.DeleteCollection(ctx, name); err != nil {
			return err
		}
		i.mu.Lock()
		// Stored hashes and the centroid belong to the deleted
		// collection; forget them so the next run re-indexes everything.
		i.state.PerFile = nil
		i.state.FilesIndexed = 0
		i.state.Centroid = nil
		i.state.ChunkCount = 0
		i.mu.Unlock()
		if i.st != nil {
			if err := i.pruneChunkLists(ctx); err != nil {
				i.logger.Warn("clearing chunk lists failed", "error", err)
			}
		}
	}
	return i.vectors.CreateCollection(ctx, name, dim)
}

// Search runs a vector query against the project collection.
func (i *Indexer) Search(ctx context.Context, vec []float32, k int, filter *vector.Filter) ([]vector.Scored, error) {
	i.mu.Lock()
	status := i.state.Status
	i.mu.Unlock()
	switch status {
	case workspace.StatusReady, workspace.StatusIndexing:
	default:
		return nil, errors.Newf(errors.CodeProjectUnknown, "project %q is not ready (status %s)", i.project.ID, status).
			WithSuggestion("initialize and index the project first")
	}
	return i.vectors.Search(ctx, i.Collection(), vec, k, filter)
}

// Remove tears the indexer down. When dropData is set the vector
// collection and the project's keyword documents are deleted too.
// Terminal: the indexer must not be used afterwards.
func (i *Indexer) Remove(ctx context.Context, dropData bool) error {
	i.StopMonitoring()

	i.mu.Lock()
	if i.indexing {
		i.mu.Unlock()
		return errors.ProjectBusy(i.project.ID)
	}
	i.state.Status = workspace.StatusUninitialized
	i.mu.Unlock()

	i.chunker.Close()
	if !dropData {
		return nil
	}
	if err := i.vectors.DeleteCollection(ctx, i.Collection()); err != nil && err != vector.ErrCollectionNotFound {
		return err
	}
	// The keyword index is per project, so dropping data drops it whole.
	if ids, err := i.keywords.IDs(); err == nil && len(ids) > 0 {
		if err := i.keywords.Delete(ctx, ids); err != nil {
			i.logger.Warn("keyword cleanup failed", "error", err)
		}
	}
	if i.st != nil {
		if err := i.pruneChunkLists(ctx); err != nil {
			i.logger.Warn("chunk list cleanup failed", "error", err)
		}
		return i.st.DeleteProject(ctx, i.project.ID)
	}
	return nil
}

// setStatus records a status change and persists the state. msg, when
// non-empty, is appended to the error log.
func (i *Indexer) setStatus(ctx context.Context, status workspace.IndexStatus, msg string) {
	i.mu.Lock()
	i.state.Status = status
	if msg != "" {
		i.state.Errors = appendBounded(i.state.Errors, msg)
	}
	state := i.state
	i.mu.Unlock()
	i.persistState(ctx, state)
}

func (i *Indexer) persistState(ctx context.Context, state workspace.IndexingState) {
	if i.st == nil {
		return
	}
	if err := i.st.SaveIndexingState(ctx, i.project.ID, state); err != nil {
		i.logger.Warn("persisting indexing state failed", "error", err)
	}
}

// maxRecordedErrors bounds the error log carried in indexing state.
const maxRecordedErrors = 50

func appendBounded(errs []string, msg string) []string {
	errs = append(errs, msg)
	if len(errs) > maxRecordedErrors {
		errs = errs[len(errs)-maxRecordedErrors:]
	}
	return errs
}

// lockPath is the cross-process lock file under the project data dir.
func (i *Indexer) lockPath() (string, error) {
	dir := filepath.Join(i.project.AbsPath, dataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "index.lock"), nil
}

// acquireLocks takes the in-process guard and the flock. The returned
// release func is nil when acquisition fails.
func (i *Indexer) acquireLocks() (func(), error) {
	i.mu.Lock()
	if i.indexing {
		i.mu.Unlock()
		return nil, errors.ProjectBusy(i.project.ID)
	}
	switch i.state.Status {
	case workspace.StatusReady:
	case workspace.StatusFailed:
		i.mu.Unlock()
		return nil, errors.Newf(errors.CodeProjectUnknown, "project %q is in failed state", i.project.ID).
			WithSuggestion("run Initialize to recover")
	default:
		i.mu.Unlock()
		return nil, errors.ProjectBusy(i.project.ID)
	}
	i.indexing = true
	i.mu.Unlock()

	release := func() {
		i.mu.Lock()
		i.indexing = false
		i.mu.Unlock()
	}

	path, err := i.lockPath()
	if err != nil {
		release()
		return nil, err
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		release()
		return nil, err
	}
	if !ok {
		release()
		return nil, errors.ProjectBusy(i.project.ID).
			WithDetail("lock_file", path)
	}
	return func() {
		_ = fl.Unlock()
		release()
	}, nil
}
