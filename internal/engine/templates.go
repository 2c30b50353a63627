package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/query"
	"github.com/latticemcp/lattice/internal/templates"
	"github.com/latticemcp/lattice/internal/workspace"
)

// TemplateRequest is one template invocation.
type TemplateRequest struct {
	Name      string            `json:"name"`
	Params    map[string]string `json:"params,omitempty"`
	Scope     workspace.Scope   `json:"scope,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	K         int               `json:"k,omitempty"`
}

// structuralKinds are the chunk kinds the structural backend keeps.
var structuralKinds = map[string]bool{
	"function":  true,
	"method":    true,
	"class":     true,
	"interface": true,
	"type":      true,
}

// SearchTemplate executes a named template. Results are cached durably
// (L3) so repeated template queries survive engine restarts; the cache
// entry is re-computed by the refresh queue after invalidation.
func (e *Engine) SearchTemplate(ctx context.Context, req TemplateRequest) (*query.Response, error) {
	tpl, err := e.registry.Get(req.Name)
	if err != nil {
		return nil, err
	}
	built, err := tpl.Build(req.Params)
	if err != nil {
		return nil, err
	}
	if req.K <= 0 {
		req.K = e.cfg.Search.DefaultK
	}

	fingerprint := "tpl:" + query.Fingerprint(req.Name+"\n"+built, req.Scope, req.ProjectID, req.K, nil)

	if e.deps.Cache != nil {
		if payload, ok := e.deps.Cache.Get(ctx, fingerprint); ok {
			var results []query.Result
			if err := json.Unmarshal(payload, &results); err == nil {
				return &query.Response{Results: results, Fingerprint: fingerprint, FromCache: true}, nil
			}
		}
	}

	results, err := e.executeTemplate(ctx, tpl, built, req)
	if err != nil {
		return nil, err
	}
	e.storeTemplateResult(ctx, fingerprint, req, results)
	return &query.Response{Results: results, Fingerprint: fingerprint}, nil
}

func (e *Engine) executeTemplate(ctx context.Context, tpl templates.Template, built string, req TemplateRequest) ([]query.Result, error) {
	switch tpl.Backend {
	case templates.BackendSemantic:
		return e.semanticSearch(ctx, built, req.Scope, req.ProjectID, req.K)

	case templates.BackendKeyword:
		return e.keywordSearch(ctx, built, req.Scope, req.ProjectID, req.K)

	case templates.BackendStructural:
		// Oversample, then keep only symbol-bearing chunks.
		hits, err := e.semanticSearch(ctx, built, req.Scope, req.ProjectID, req.K*e.headroom())
		if err != nil {
			return nil, err
		}
		out := make([]query.Result, 0, req.K)
		for _, r := range hits {
			if structuralKinds[r.SymbolKind] {
				out = append(out, r)
				if len(out) == req.K {
					break
				}
			}
		}
		return out, nil

	case templates.BackendHybrid:
		return e.hybridSearch(ctx, built, req.Scope, req.ProjectID, req.K)
	}
	return nil, errors.InvalidParams("template %q has unknown backend %q", tpl.Name, tpl.Backend)
}

func (e *Engine) headroom() int {
	if e.cfg.Search.HeadroomFactor > 0 {
		return e.cfg.Search.HeadroomFactor
	}
	return 3
}

func (e *Engine) semanticSearch(ctx context.Context, q string, scope workspace.Scope, projectID string, k int) ([]query.Result, error) {
	vec, err := e.deps.Embedder.Embed(ctx, q)
	if err != nil {
		return nil, errors.EmbedderUnavailable(err)
	}
	return e.SearchWorkspace(ctx, vec, scope, projectID, k)
}

// keywordSearch runs the BM25 index of every target project and merges
// the normalized scores.
func (e *Engine) keywordSearch(ctx context.Context, q string, scope workspace.Scope, projectID string, k int) ([]query.Result, error) {
	targets, err := e.resolveTargets(scope, projectID)
	if err != nil {
		return nil, err
	}

	var merged []query.Result
	for _, id := range targets {
		h, err := e.handle(id)
		if err != nil {
			continue
		}
		hits, err := h.keywords.Search(ctx, q, k)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			merged = append(merged, query.Result{
				ID:        hit.ID,
				ProjectID: id,
				Path:      hit.Path,
				BaseScore: hit.Score,
			})
		}
	}

	sort.Slice(merged, func(a, b int) bool {
		if merged[a].BaseScore != merged[b].BaseScore {
			return merged[a].BaseScore > merged[b].BaseScore
		}
		return merged[a].ID < merged[b].ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// hybridSearch fuses the keyword and semantic lists with reciprocal
// rank fusion. Metadata comes from the semantic side when the document
// appears in both lists.
func (e *Engine) hybridSearch(ctx context.Context, q string, scope workspace.Scope, projectID string, k int) ([]query.Result, error) {
	oversample := k * e.headroom()

	kwHits, err := e.keywordSearch(ctx, q, scope, projectID, oversample)
	if err != nil {
		return nil, err
	}
	semHits, err := e.semanticSearch(ctx, q, scope, projectID, oversample)
	if err != nil {
		return nil, err
	}

	kwRanked := make([]templates.Ranked, len(kwHits))
	byID := make(map[string]query.Result, len(kwHits)+len(semHits))
	for i, h := range kwHits {
		kwRanked[i] = templates.Ranked{ID: h.ID, Score: h.BaseScore}
		byID[h.ID] = h
	}
	semRanked := make([]templates.Ranked, len(semHits))
	for i, h := range semHits {
		semRanked[i] = templates.Ranked{ID: h.ID, Score: h.BaseScore}
		byID[h.ID] = h
	}

	fused := templates.FuseRRF(kwRanked, semRanked)
	out := make([]query.Result, 0, k)
	for _, f := range fused {
		r := byID[f.ID]
		r.BaseScore = f.Score
		r.FinalScore = f.Score
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// storeTemplateResult writes the durable cache entry and remembers the
// invocation so the refresh queue can re-run it later.
func (e *Engine) storeTemplateResult(ctx context.Context, fingerprint string, req TemplateRequest, results []query.Result) {
	if e.deps.Cache == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	paths := make([]string, 0, len(results))
	seen := map[string]struct{}{}
	for _, r := range results {
		if _, ok := seen[r.Path]; ok {
			continue
		}
		seen[r.Path] = struct{}{}
		paths = append(paths, r.Path)
	}
	ttl := e.cfg.Cache.L3TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	e.deps.Cache.PutDurable(ctx, fingerprint, payload, paths, time.Now().Add(ttl))

	e.runMu.Lock()
	e.runs[fingerprint] = req
	e.runMu.Unlock()
}

// enqueueRefresh schedules re-computation of template entries citing
// any of the changed paths.
func (e *Engine) enqueueRefresh(ctx context.Context, paths []string) {
	if e.refresh == nil {
		return
	}
	for _, path := range paths {
		fps, err := e.deps.Store.FingerprintsForPath(ctx, path)
		if err != nil {
			e.logger.Warn("looking up cached fingerprints failed", "path", path, "error", err)
			continue
		}
		for _, fp := range fps {
			e.runMu.Lock()
			_, known := e.runs[fp]
			e.runMu.Unlock()
			if known {
				e.refresh.Enqueue(fp)
			}
		}
	}
}

// refreshTemplate is the refresh queue worker: it re-executes a
// remembered template invocation and rewrites its durable entry.
func (e *Engine) refreshTemplate(ctx context.Context, fingerprint string) error {
	e.runMu.Lock()
	req, ok := e.runs[fingerprint]
	e.runMu.Unlock()
	if !ok {
		return nil
	}

	tpl, err := e.registry.Get(req.Name)
	if err != nil {
		return err
	}
	built, err := tpl.Build(req.Params)
	if err != nil {
		return err
	}
	results, err := e.executeTemplate(ctx, tpl, built, req)
	if err != nil {
		return err
	}
	e.storeTemplateResult(ctx, fingerprint, req, results)
	return nil
}
