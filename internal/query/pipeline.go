package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/latticemcp/lattice/internal/embed"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/rank"
	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/internal/workspace"
)

// retrievalHeadroom oversamples retrieval so the ranker has room to
// reorder before truncating to k.
const retrievalHeadroom = 3

// DefaultK is the result count when the request leaves K zero.
const DefaultK = 10

// Request is one search invocation.
type Request struct {
	Query     string
	Scope     workspace.Scope
	ProjectID string
	UserID    string
	K         int
}

// Result is one ranked hit as returned to callers.
type Result struct {
	ID         string             `json:"id"`
	ProjectID  string             `json:"project_id"`
	Path       string             `json:"path"`
	Language   string             `json:"language,omitempty"`
	SymbolKind string             `json:"symbol_kind,omitempty"`
	SymbolName string             `json:"symbol_name,omitempty"`
	Snippet    string             `json:"snippet,omitempty"`
	ModTime    time.Time          `json:"mtime,omitempty"`
	BaseScore  float64            `json:"base_score"`
	FinalScore float64            `json:"final_score"`
	Boosts     map[string]float64 `json:"boosts,omitempty"`
}

// Response carries the hits plus pipeline metadata.
type Response struct {
	Results     []Result `json:"results"`
	Fingerprint string   `json:"fingerprint"`
	FromCache   bool     `json:"from_cache"`
	Parsed      Parsed   `json:"-"`
}

// Retriever fans a query vector out across the workspace. The engine
// implements it.
type Retriever interface {
	SearchWorkspace(ctx context.Context, vector []float32, scope workspace.Scope, projectID string, k int) ([]Result, error)
}

// ResultCache is the tiered cache surface the pipeline writes through.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) ([]byte, bool)
	Put(ctx context.Context, fingerprint string, payload []byte, paths []string)
	RecordQuery(userID, fingerprint string)
}

// Sessions supplies user context snapshots and team patterns.
type Sessions interface {
	Snapshot(ctx context.Context, userID string) (*session.UserContext, error)
	TeamPatterns(ctx context.Context, n int) (map[string]int, error)
	Update(ctx context.Context, userID string, ev session.Event) error
}

// Pipeline wires parse, expand, embed, retrieve, rank and cache.
type Pipeline struct {
	embedder  embed.Embedder
	retriever Retriever
	ranker    *rank.Ranker
	cache     ResultCache
	sessions  Sessions
	expander  *Expander
	logger    *slog.Logger
}

// NewPipeline assembles a pipeline. cache and sessions may be nil; the
// corresponding stages then degrade to pass-through.
func NewPipeline(embedder embed.Embedder, retriever Retriever, ranker *rank.Ranker, cache ResultCache, sessions Sessions, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		embedder:  embedder,
		retriever: retriever,
		ranker:    ranker,
		cache:     cache,
		sessions:  sessions,
		expander:  NewExpander(),
		logger:    logger.With("component", "query"),
	}
}

// Search runs the full pipeline for one request.
func (p *Pipeline) Search(ctx context.Context, req Request) (*Response, error) {
	parsed, err := Parse(req.Query)
	if err != nil {
		return nil, err
	}
	if req.K <= 0 {
		req.K = DefaultK
	}
	// An empty scope stays empty; the retriever resolves it to the
	// workspace's configured default.
	if req.Scope != "" && !workspace.ValidScope(req.Scope) {
		return nil, errors.InvalidParams("unknown scope %q", req.Scope)
	}

	var uc *session.UserContext
	if p.sessions != nil && req.UserID != "" {
		uc, err = p.sessions.Snapshot(ctx, req.UserID)
		if err != nil {
			// Context only sharpens ranking; search proceeds without it.
			p.logger.Warn("user context unavailable", "user", req.UserID, "error", err)
			uc = nil
		}
	}

	fingerprint := Fingerprint(req.Query, req.Scope, req.ProjectID, req.K, uc)

	if p.cache != nil {
		if payload, ok := p.cache.Get(ctx, fingerprint); ok {
			var results []Result
			if err := json.Unmarshal(payload, &results); err == nil {
				p.recordQuery(ctx, req, fingerprint)
				return &Response{
					Results:     results,
					Fingerprint: fingerprint,
					FromCache:   true,
					Parsed:      parsed,
				}, nil
			}
			p.logger.Warn("dropping undecodable cache entry", "fingerprint", fingerprint)
		}
	}

	expanded := p.expander.Expand(req.Query)
	vector, err := p.embedder.Embed(ctx, expanded)
	if err != nil {
		return nil, err
	}

	candidates, err := p.retriever.SearchWorkspace(ctx, vector, req.Scope, req.ProjectID, req.K*retrievalHeadroom)
	if err != nil {
		return nil, err
	}

	var team map[string]int
	if p.sessions != nil {
		if team, err = p.sessions.TeamPatterns(ctx, 50); err != nil {
			p.logger.Warn("team patterns unavailable", "error", err)
			team = nil
		}
	}

	items := make([]rank.Item, len(candidates))
	byID := make(map[string]Result, len(candidates))
	for i, c := range candidates {
		items[i] = rank.Item{
			ID:         c.ID,
			ProjectID:  c.ProjectID,
			Path:       c.Path,
			SymbolName: c.SymbolName,
			ModTime:    c.ModTime,
			BaseScore:  c.BaseScore,
		}
		byID[c.ID] = c
	}
	ranked := p.ranker.Rank(items, uc, team, parsed.Terms(), req.K)

	results := make([]Result, len(ranked))
	for i, item := range ranked {
		r := byID[item.ID]
		r.FinalScore = item.FinalScore
		r.Boosts = item.Boosts
		results[i] = r
	}

	if p.cache != nil {
		if payload, err := json.Marshal(results); err == nil {
			p.cache.Put(ctx, fingerprint, payload, resultPaths(results))
		}
	}
	p.recordQuery(ctx, req, fingerprint)

	return &Response{
		Results:     results,
		Fingerprint: fingerprint,
		Parsed:      parsed,
	}, nil
}

// recordQuery feeds the session history and the prefetcher.
func (p *Pipeline) recordQuery(ctx context.Context, req Request, fingerprint string) {
	if p.cache != nil && req.UserID != "" {
		p.cache.RecordQuery(req.UserID, fingerprint)
	}
	if p.sessions != nil && req.UserID != "" {
		if err := p.sessions.Update(ctx, req.UserID, session.Event{
			Type:  session.EventQueryIssued,
			Query: req.Query,
		}); err != nil {
			p.logger.Warn("recording query failed", "user", req.UserID, "error", err)
		}
	}
}

func resultPaths(results []Result) []string {
	seen := make(map[string]struct{}, len(results))
	var paths []string
	for _, r := range results {
		if _, ok := seen[r.Path]; ok {
			continue
		}
		seen[r.Path] = struct{}{}
		paths = append(paths, r.Path)
	}
	return paths
}
