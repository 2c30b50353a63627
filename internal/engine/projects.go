package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/graph"
	"github.com/latticemcp/lattice/internal/workspace"
)

// AddProject registers a project, persists the workspace config, and
// builds its indexer.
func (e *Engine) AddProject(ctx context.Context, p workspace.Project) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ws == nil {
		return errors.New(errors.CodeConfigInvalid, "no workspace loaded")
	}
	if p.AbsPath == "" {
		if filepath.IsAbs(p.Path) {
			p.AbsPath = filepath.Clean(p.Path)
		} else {
			p.AbsPath = filepath.Join(filepath.Dir(e.ws.Path), p.Path)
		}
	}
	if err := e.ws.AddProject(p); err != nil {
		return errors.Wrap(errors.CodeConfigInvalid, "invalid project", err)
	}
	if err := e.ws.Validate(); err != nil {
		e.ws.RemoveProject(p.ID)
		return errors.Wrap(errors.CodeConfigInvalid, "workspace validation failed", err)
	}

	if p.Indexing.IsEnabled() {
		h, err := e.buildHandle(ctx, p)
		if err != nil {
			e.ws.RemoveProject(p.ID)
			return err
		}
		e.handles[p.ID] = h
	}
	_ = e.graph.AddNode(graph.Node{ID: p.ID, Type: p.Type})

	if err := e.deps.Store.SaveProject(ctx, p); err != nil {
		e.logger.Warn("persisting project failed", "project", p.ID, "error", err)
	}
	return e.saveWorkspaceLocked()
}

// RemoveProject unregisters a project. With dropData set the vector
// collection, keyword index and persisted state are deleted too.
// Busy projects (indexing in flight) are refused.
func (e *Engine) RemoveProject(ctx context.Context, id string, dropData bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ws == nil {
		return errors.New(errors.CodeConfigInvalid, "no workspace loaded")
	}
	if e.ws.Project(id) == nil {
		return errors.ProjectUnknown(id)
	}

	if h, ok := e.handles[id]; ok {
		abs := h.indexer.Project().AbsPath
		if err := h.indexer.Remove(ctx, dropData); err != nil {
			return err
		}
		if err := h.keywords.Close(); err != nil {
			e.logger.Warn("closing keyword index failed", "project", id, "error", err)
		}
		if dropData {
			if err := os.RemoveAll(filepath.Join(config.DataDir(abs), "keyword")); err != nil {
				e.logger.Warn("removing keyword index dir failed", "project", id, "error", err)
			}
		}
		delete(e.handles, id)
	}

	e.ws.RemoveProject(id)
	e.graph.RemoveNode(id)
	return e.saveWorkspaceLocked()
}

// ReloadProject re-reads the workspace config from disk and rebuilds
// one project's indexer against the fresh definition. The project's
// indexed data is kept; only configuration (excludes, priority) is
// replaced.
func (e *Engine) ReloadProject(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ws == nil {
		return errors.New(errors.CodeConfigInvalid, "no workspace loaded")
	}
	fresh, err := workspace.Load(e.ws.Path)
	if err != nil {
		return err
	}
	p := fresh.Project(id)
	if p == nil {
		return errors.ProjectUnknown(id)
	}

	if h, ok := e.handles[id]; ok {
		h.indexer.StopMonitoring()
		if err := h.keywords.Close(); err != nil {
			e.logger.Warn("closing keyword index failed", "project", id, "error", err)
		}
		delete(e.handles, id)
	}

	e.ws = fresh
	e.graph = graph.FromWorkspace(fresh)
	if e.pipeline != nil {
		e.pipeline = e.buildPipelineLocked()
	}

	if p.Indexing.IsEnabled() {
		h, err := e.buildHandle(ctx, *p)
		if err != nil {
			return err
		}
		e.handles[id] = h
	}
	if err := e.deps.Store.SaveProject(ctx, *p); err != nil {
		e.logger.Warn("persisting project failed", "project", id, "error", err)
	}
	return nil
}

// SaveWorkspace writes the current workspace config to path. An empty
// path reuses the location the workspace was loaded from.
func (e *Engine) SaveWorkspace(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ws == nil {
		return errors.New(errors.CodeConfigInvalid, "no workspace loaded")
	}
	if path == "" {
		path = e.ws.Path
	}
	if path == "" {
		return errors.New(errors.CodeConfigInvalid, "no workspace path to save to")
	}
	if err := e.ws.Save(path); err != nil {
		return errors.Wrap(errors.CodeConfigInvalid, "saving workspace config", err)
	}
	e.ws.Path = path
	return nil
}

// saveWorkspaceLocked persists the workspace config. Callers hold the
// write lock.
func (e *Engine) saveWorkspaceLocked() error {
	if e.ws.Path == "" {
		return nil
	}
	if err := e.ws.Save(e.ws.Path); err != nil {
		return errors.Wrap(errors.CodeConfigInvalid, "saving workspace config", err)
	}
	return nil
}
