package engine

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/query"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

// searchFanout bounds concurrent per-project searches in one request.
const searchFanout = 8

// semanticRelatedThreshold is the centroid similarity above which two
// projects count as related without an explicit relationship edge.
const semanticRelatedThreshold = 0.8

// SearchWorkspace fans a query vector out across the scope's target
// projects and merges the hits, best first. It implements
// query.Retriever. Projects that are not ready are skipped; backend
// failures abort the search.
func (e *Engine) SearchWorkspace(ctx context.Context, vec []float32, scope workspace.Scope, projectID string, k int) ([]query.Result, error) {
	targets, err := e.resolveTargets(scope, projectID)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = e.cfg.Search.DefaultK
	}

	var mu sync.Mutex
	var merged []vector.Scored

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchFanout)
	for _, id := range targets {
		h, err := e.handle(id)
		if err != nil {
			continue
		}
		g.Go(func() error {
			hits, err := h.indexer.Search(gctx, vec, k, nil)
			if err != nil {
				// Unready projects degrade the scope, they don't kill it.
				if errors.CodeOf(err) == errors.CodeProjectUnknown {
					e.logger.Debug("skipping unready project", "project", id)
					return nil
				}
				return err
			}
			mu.Lock()
			merged = append(merged, hits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(merged, func(a, b int) bool {
		if merged[a].Score != merged[b].Score {
			return merged[a].Score > merged[b].Score
		}
		return merged[a].ID < merged[b].ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	results := make([]query.Result, len(merged))
	for i, s := range merged {
		results[i] = toResult(s)
	}
	return results, nil
}

func toResult(s vector.Scored) query.Result {
	return query.Result{
		ID:         s.ID,
		ProjectID:  s.Payload.ProjectID,
		Path:       s.Payload.FilePath,
		Language:   s.Payload.Language,
		SymbolKind: s.Payload.SymbolKind,
		SymbolName: s.Payload.SymbolName,
		Snippet:    s.Payload.Snippet,
		ModTime:    s.Payload.ModTime,
		BaseScore:  float64(s.Score),
	}
}

// resolveTargets maps a scope to the project ids it covers.
//
// project → the project alone; dependencies → project plus transitive
// dependencies; related → project plus relationship-graph neighbours of
// any edge type plus projects whose content centroids are close;
// workspace → every enabled project.
func (e *Engine) resolveTargets(scope workspace.Scope, projectID string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.ws == nil {
		return nil, errors.New(errors.CodeConfigInvalid, "no workspace loaded")
	}
	if scope == "" {
		scope = e.ws.Search.DefaultScope
	}
	if !workspace.ValidScope(scope) {
		return nil, errors.InvalidParams("unknown scope %q", scope)
	}

	if scope == workspace.ScopeWorkspace {
		ids := make([]string, 0, len(e.handles))
		for id := range e.handles {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	}

	if projectID == "" {
		return nil, errors.InvalidParams("scope %q requires a project_id", scope)
	}
	if _, ok := e.handles[projectID]; !ok {
		return nil, errors.ProjectUnknown(projectID)
	}

	switch scope {
	case workspace.ScopeProject:
		return []string{projectID}, nil
	case workspace.ScopeDependencies:
		ids := append([]string{projectID}, e.ws.Dependencies(projectID, true)...)
		return e.known(ids), nil
	case workspace.ScopeRelated:
		ids := []string{projectID}
		for id := range e.graph.Neighbours(projectID) {
			ids = append(ids, id)
		}
		for id := range e.handles {
			if id == projectID {
				continue
			}
			if sim, ok := e.graph.Similarity(projectID, id); ok && sim >= semanticRelatedThreshold {
				ids = append(ids, id)
			}
		}
		return e.known(ids), nil
	}
	return nil, errors.InvalidParams("unknown scope %q", scope)
}

// known filters ids to those with a live handle, deduplicated, sorted.
func (e *Engine) known(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := e.handles[id]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
