// Package engine is the workspace manager: it owns one indexer per
// project, the relationship graph, the query pipeline and the template
// executor, and reconciles them when the workspace config changes. All
// collaborators are injected; the engine holds no global state.
package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/latticemcp/lattice/internal/cache"
	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/embed"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/graph"
	"github.com/latticemcp/lattice/internal/indexer"
	"github.com/latticemcp/lattice/internal/keyword"
	"github.com/latticemcp/lattice/internal/query"
	"github.com/latticemcp/lattice/internal/rank"
	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/internal/store"
	"github.com/latticemcp/lattice/internal/templates"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

// Deps are the engine's injected collaborators. Embedder, Vectors and
// Store are required; Cache and Sessions are optional tiers.
type Deps struct {
	Embedder embed.Embedder
	Vectors  vector.Store
	Store    *store.Store
	Cache    *cache.Cache
	Sessions *session.Manager
	Logger   *slog.Logger
}

// handle bundles the per-project pieces the engine manages together.
type handle struct {
	indexer  *indexer.Indexer
	keywords *keyword.Index
}

// Engine coordinates all projects of one workspace.
type Engine struct {
	cfg  *config.Config
	deps Deps
	sem  *semaphore.Weighted

	mu       sync.RWMutex
	ws       *workspace.Workspace
	graph    *graph.Graph
	handles  map[string]*handle
	pipeline *query.Pipeline

	registry *templates.Registry
	refresh  *cache.RefreshQueue

	runMu sync.Mutex
	runs  map[string]TemplateRequest

	logger *slog.Logger
}

// New builds an engine. LoadWorkspace must be called before searching
// or indexing.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Embedder == nil || deps.Vectors == nil || deps.Store == nil {
		return nil, errors.Internal("engine requires embedder, vector store and relational store", nil)
	}
	if cfg == nil {
		cfg = config.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := templates.NewRegistry(ctx, deps.Store, logger)
	if err != nil {
		return nil, err
	}

	n := cfg.Indexing.GlobalConcurrency
	if n <= 0 {
		n = 8
	}

	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		sem:      semaphore.NewWeighted(int64(n)),
		graph:    graph.New(),
		handles:  map[string]*handle{},
		registry: registry,
		runs:     map[string]TemplateRequest{},
		logger:   logger.With("component", "engine"),
	}
	if deps.Cache != nil {
		e.refresh = cache.NewRefreshQueue(e.refreshTemplate, logger)
		e.refresh.Start(ctx)
	}
	return e, nil
}

// LoadWorkspace reads and validates the workspace config, builds the
// relationship graph and constructs an indexer per enabled project.
func (e *Engine) LoadWorkspace(ctx context.Context, path string) error {
	ws, err := workspace.Load(path)
	if err != nil {
		return errors.Wrap(errors.CodeConfigInvalid, "load workspace", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A reload replaces everything; tear the old handles down first.
	for id, h := range e.handles {
		h.indexer.StopMonitoring()
		if err := h.keywords.Close(); err != nil {
			e.logger.Warn("closing keyword index failed", "project", id, "error", err)
		}
	}
	e.handles = map[string]*handle{}

	e.ws = ws
	e.graph = graph.FromWorkspace(ws)

	for _, p := range ws.EnabledProjects() {
		h, err := e.buildHandle(ctx, p)
		if err != nil {
			return err
		}
		e.handles[p.ID] = h
		if err := e.deps.Store.SaveProject(ctx, p); err != nil {
			e.logger.Warn("persisting project failed", "project", p.ID, "error", err)
		}
	}

	e.pipeline = e.buildPipelineLocked()

	e.logger.Info("workspace loaded", "name", ws.Name, "projects", len(e.handles))
	return nil
}

// buildPipelineLocked assembles the query pipeline around the current
// graph. Callers hold the write lock.
func (e *Engine) buildPipelineLocked() *query.Pipeline {
	var rc query.ResultCache
	if e.deps.Cache != nil {
		rc = e.deps.Cache
	}
	var sessions query.Sessions
	if e.deps.Sessions != nil {
		sessions = e.deps.Sessions
	}
	return query.NewPipeline(e.deps.Embedder, e, rank.New(e.graph), rc, sessions, e.logger)
}

func (e *Engine) buildHandle(ctx context.Context, p workspace.Project) (*handle, error) {
	kw, err := keyword.Open(filepath.Join(config.DataDir(p.AbsPath), "keyword"))
	if err != nil {
		return nil, err
	}
	idx, err := indexer.New(ctx, p, e.cfg.Indexing, indexer.Deps{
		Embedder: e.deps.Embedder,
		Vectors:  e.deps.Vectors,
		Keywords: kw,
		Store:    e.deps.Store,
		Logger:   e.logger,
		Sem:      e.sem,
	})
	if err != nil {
		_ = kw.Close()
		return nil, err
	}
	return &handle{indexer: idx, keywords: kw}, nil
}

// Workspace returns the loaded workspace, or nil.
func (e *Engine) Workspace() *workspace.Workspace {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ws
}

// Graph returns the relationship graph.
func (e *Engine) Graph() *graph.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph
}

// Templates returns the template registry.
func (e *Engine) Templates() *templates.Registry {
	return e.registry
}

// Search runs the full query pipeline. An empty scope resolves to the
// workspace's configured default before the cache key is computed.
func (e *Engine) Search(ctx context.Context, req query.Request) (*query.Response, error) {
	e.mu.RLock()
	p := e.pipeline
	if req.Scope == "" && e.ws != nil {
		req.Scope = e.ws.Search.DefaultScope
	}
	e.mu.RUnlock()
	if p == nil {
		return nil, errors.New(errors.CodeConfigInvalid, "no workspace loaded").
			WithSuggestion("load a workspace config first")
	}
	return p.Search(ctx, req)
}

// Initialize prepares project collections. Lazy mode defers to first
// use; eager mode initializes every project concurrently. Per-project
// failures are returned by id and do not fail the workspace.
func (e *Engine) Initialize(ctx context.Context, lazy bool) map[string]error {
	failures := map[string]error{}
	if lazy {
		return failures
	}

	e.mu.RLock()
	handles := make(map[string]*handle, len(e.handles))
	for id, h := range e.handles {
		handles[id] = h
	}
	e.mu.RUnlock()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for id, h := range handles {
		g.Go(func() error {
			if err := h.indexer.Initialize(gctx); err != nil {
				e.logger.Warn("project initialization failed", "project", id, "error", err)
				mu.Lock()
				failures[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// IndexAll indexes every enabled project. Parallel mode runs by
// priority (critical first) under the global concurrency cap;
// sequential mode follows dependency topological order so libraries
// index before their dependents. Per-project failures are collected,
// not fatal.
func (e *Engine) IndexAll(ctx context.Context, parallel bool) (map[string]*indexer.Summary, map[string]error) {
	summaries := map[string]*indexer.Summary{}
	failures := map[string]error{}

	order := e.indexOrder(parallel)
	if parallel {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		limit := e.cfg.Indexing.GlobalConcurrency
		if limit <= 0 {
			limit = 4
		}
		g.SetLimit(limit)
		for _, id := range order {
			g.Go(func() error {
				s, err := e.IndexProject(gctx, id)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures[id] = err
					return nil
				}
				summaries[id] = s
				return nil
			})
		}
		_ = g.Wait()
		return summaries, failures
	}

	for _, id := range order {
		s, err := e.IndexProject(ctx, id)
		if err != nil {
			failures[id] = err
			continue
		}
		summaries[id] = s
	}
	return summaries, failures
}

// indexOrder returns project ids sorted for indexing.
func (e *Engine) indexOrder(byPriority bool) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.handles))
	for id := range e.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if byPriority {
		sort.SliceStable(ids, func(a, b int) bool {
			pa := e.handles[ids[a]].indexer.Project().Indexing.Priority
			pb := e.handles[ids[b]].indexer.Project().Indexing.Priority
			return pa.Rank() < pb.Rank()
		})
		return ids
	}

	topo, err := e.graph.TopoOrder()
	if err != nil {
		// Relationship cycles fall back to declaration order.
		return ids
	}
	ordered := make([]string, 0, len(ids))
	for _, id := range topo {
		if _, ok := e.handles[id]; ok {
			ordered = append(ordered, id)
		}
	}
	return ordered
}

// IndexProject indexes one project, initializing it first when needed.
func (e *Engine) IndexProject(ctx context.Context, id string, globs ...string) (*indexer.Summary, error) {
	h, err := e.handle(id)
	if err != nil {
		return nil, err
	}
	switch h.indexer.Status().Status {
	case workspace.StatusUninitialized, workspace.StatusFailed:
		if err := h.indexer.Initialize(ctx); err != nil {
			return nil, err
		}
	}
	summary, err := h.indexer.Index(ctx, globs...)
	if err != nil {
		return nil, err
	}
	e.refreshSimilarities(id)
	return summary, nil
}

// refreshSimilarities recomputes a project's centroid similarities
// against every other project after a reindex moved its centroid. Pairs
// touching the project are dropped first, so projects without a
// centroid simply disappear from the similarity cache.
func (e *Engine) refreshSimilarities(id string) {
	e.mu.RLock()
	g := e.graph
	centroids := make(map[string][]float32, len(e.handles))
	for pid, h := range e.handles {
		if c := h.indexer.Status().Centroid; len(c) > 0 {
			centroids[pid] = c
		}
	}
	e.mu.RUnlock()

	g.InvalidateProject(id)
	own, ok := centroids[id]
	if !ok {
		return
	}
	for pid, c := range centroids {
		if pid == id {
			continue
		}
		g.SetSimilarity(id, pid, vector.Cosine(own, c))
	}
}

// Status returns one project's indexing state.
func (e *Engine) Status(id string) (workspace.IndexingState, error) {
	h, err := e.handle(id)
	if err != nil {
		return workspace.IndexingState{}, err
	}
	return h.indexer.Status(), nil
}

// Statuses returns every project's indexing state keyed by id.
func (e *Engine) Statuses() map[string]workspace.IndexingState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]workspace.IndexingState, len(e.handles))
	for id, h := range e.handles {
		out[id] = h.indexer.Status()
	}
	return out
}

// StartMonitoring begins change monitoring on every project. Watcher
// batches feed incremental indexing and cache invalidation.
func (e *Engine) StartMonitoring(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, h := range e.handles {
		if err := h.indexer.StartMonitoring(ctx, e.onChange(id)); err != nil {
			return err
		}
	}
	return nil
}

// StopMonitoring stops all project watchers.
func (e *Engine) StopMonitoring() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, h := range e.handles {
		h.indexer.StopMonitoring()
	}
}

// onChange returns the invalidation hook for one project's watcher.
func (e *Engine) onChange(projectID string) func(paths []string) {
	return func(paths []string) {
		e.InvalidatePaths(context.Background(), paths)
		e.logger.Debug("invalidated changed paths", "project", projectID, "paths", len(paths))
	}
}

// InvalidatePaths drops cached results that reference the given paths and
// schedules the durable tier for refresh. Edit events reported through the
// session surface go through here as well as watcher batches.
func (e *Engine) InvalidatePaths(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	// Refresh lookup reads the durable tier, so it has to run before
	// invalidation purges those rows.
	e.enqueueRefresh(ctx, paths)
	if e.deps.Cache != nil {
		e.deps.Cache.Invalidate(ctx, paths)
	}
}

// handle looks up a project handle.
func (e *Engine) handle(id string) (*handle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[id]
	if !ok {
		return nil, errors.ProjectUnknown(id)
	}
	return h, nil
}

// Close stops monitoring, the refresh queue, and the per-project
// keyword indexes. Injected collaborators are closed by their owner.
func (e *Engine) Close() error {
	if e.refresh != nil {
		e.refresh.Stop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for id, h := range e.handles {
		h.indexer.StopMonitoring()
		if err := h.keywords.Close(); err != nil {
			e.logger.Warn("closing keyword index failed", "project", id, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	e.handles = map[string]*handle{}
	return first
}
