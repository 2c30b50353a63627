package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
)

// VerifyReport lists consistency problems per project. An empty slice
// means the project's stores agree.
type VerifyReport map[string][]string

// OK reports whether no project has problems.
func (r VerifyReport) OK() bool {
	for _, problems := range r {
		if len(problems) > 0 {
			return false
		}
	}
	return true
}

// Verify cross-checks every project's vector collection, keyword index
// and recorded state. It reads only; nothing is repaired.
func (e *Engine) Verify(ctx context.Context) (VerifyReport, error) {
	e.mu.RLock()
	handles := make(map[string]*handle, len(e.handles))
	for id, h := range e.handles {
		handles[id] = h
	}
	e.mu.RUnlock()

	dims := e.deps.Embedder.Dimensions()
	report := make(VerifyReport, len(handles))

	ids := make([]string, 0, len(handles))
	for id := range handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		h := handles[id]
		var problems []string
		name := vector.CollectionName(id)
		state := h.indexer.Status()

		exists, err := e.deps.Vectors.CollectionExists(ctx, name)
		if err != nil {
			return nil, err
		}
		switch {
		case !exists && state.Status != workspace.StatusUninitialized:
			problems = append(problems, fmt.Sprintf("vector collection %s missing while status is %s", name, state.Status))
		case exists:
			have, err := e.deps.Vectors.CollectionDimensions(ctx, name)
			if err != nil {
				return nil, err
			}
			if have != dims {
				problems = append(problems, fmt.Sprintf("collection has %d dimensions, embedder produces %d", have, dims))
			}

			vecCount, err := e.deps.Vectors.Count(ctx, name)
			if err != nil {
				return nil, err
			}
			kwCount, err := h.keywords.Count()
			if err != nil {
				return nil, err
			}
			if vecCount != kwCount {
				problems = append(problems, fmt.Sprintf("vector store holds %d chunks, keyword index %d", vecCount, kwCount))
			}
			if state.Status == workspace.StatusReady && len(state.PerFile) > 0 && vecCount == 0 {
				problems = append(problems, "status is ready with indexed files recorded but the vector collection is empty")
			}
		}
		if state.Status == workspace.StatusFailed {
			problems = append(problems, "last indexing run failed; run index to recover")
		}
		report[id] = problems
	}
	return report, nil
}
