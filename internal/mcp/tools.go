package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/latticemcp/lattice/internal/discovery"
	"github.com/latticemcp/lattice/internal/engine"
	"github.com/latticemcp/lattice/internal/indexer"
	"github.com/latticemcp/lattice/internal/query"
	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/internal/workspace"
)

// searchHit is one result row as serialized to clients.
type searchHit struct {
	ID         string             `json:"id" jsonschema:"chunk identifier"`
	ProjectID  string             `json:"project_id" jsonschema:"owning project"`
	Path       string             `json:"path" jsonschema:"file path relative to the project root"`
	Language   string             `json:"language,omitempty"`
	SymbolKind string             `json:"symbol_kind,omitempty"`
	SymbolName string             `json:"symbol_name,omitempty"`
	Snippet    string             `json:"snippet,omitempty"`
	Score      float64            `json:"score" jsonschema:"final score after context boosts"`
	Boosts     map[string]float64 `json:"boosts,omitempty" jsonschema:"per-factor boost contributions"`
}

func toHits(results []query.Result) []searchHit {
	hits := make([]searchHit, len(results))
	for i, r := range results {
		hits[i] = searchHit{
			ID:         r.ID,
			ProjectID:  r.ProjectID,
			Path:       r.Path,
			Language:   r.Language,
			SymbolKind: r.SymbolKind,
			SymbolName: r.SymbolName,
			Snippet:    r.Snippet,
			Score:      r.FinalScore,
			Boosts:     r.Boosts,
		}
	}
	return hits
}

type discoverInput struct {
	Root  string `json:"root" jsonschema:"directory to scan for projects"`
	Depth int    `json:"depth,omitempty" jsonschema:"maximum directory depth to walk, default 3"`
}

type discoveredProject struct {
	ID           string   `json:"id"`
	Path         string   `json:"path"`
	Type         string   `json:"type"`
	Languages    []string `json:"languages,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Confidence   float64  `json:"confidence" jsonschema:"classification confidence in (0,1]"`
}

type discoverOutput struct {
	Name     string              `json:"name"`
	Projects []discoveredProject `json:"projects"`
	Config   string              `json:"config" jsonschema:"draft workspace config as JSON, ready to write to disk"`
}

func (s *Server) handleDiscover(_ context.Context, in discoverInput) (discoverOutput, error) {
	if strings.TrimSpace(in.Root) == "" {
		return discoverOutput{}, invalidParams("root is required")
	}
	dcfg := s.cfg.Discovery
	if in.Depth > 0 {
		dcfg.MaxDepth = in.Depth
	}
	ws, err := discovery.Discover(in.Root, dcfg)
	if err != nil {
		return discoverOutput{}, mapErr(err)
	}

	out := discoverOutput{Name: ws.Name, Projects: make([]discoveredProject, 0, len(ws.Projects))}
	for _, p := range ws.Projects {
		conf, _ := p.Metadata["discovery_confidence"].(float64)
		out.Projects = append(out.Projects, discoveredProject{
			ID:           p.ID,
			Path:         p.Path,
			Type:         string(p.Type),
			Languages:    p.Languages,
			Dependencies: p.Dependencies,
			Confidence:   conf,
		})
	}
	raw, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return discoverOutput{}, mapErr(err)
	}
	out.Config = string(raw)
	return out, nil
}

type loadInput struct {
	Path string `json:"path" jsonschema:"workspace config file to load"`
}

type loadOutput struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Projects []string `json:"projects"`
}

func (s *Server) handleLoad(ctx context.Context, in loadInput) (loadOutput, error) {
	if strings.TrimSpace(in.Path) == "" {
		return loadOutput{}, invalidParams("path is required")
	}
	if err := s.engine.LoadWorkspace(ctx, in.Path); err != nil {
		return loadOutput{}, mapErr(err)
	}
	ws := s.engine.Workspace()
	return loadOutput{Name: ws.Name, Version: ws.Version, Projects: ws.ProjectIDs()}, nil
}

type saveInput struct {
	Path string `json:"path,omitempty" jsonschema:"destination file, defaults to where the workspace was loaded from"`
}

type saveOutput struct {
	Path string `json:"path"`
}

func (s *Server) handleSave(_ context.Context, in saveInput) (saveOutput, error) {
	if err := s.engine.SaveWorkspace(in.Path); err != nil {
		return saveOutput{}, mapErr(err)
	}
	return saveOutput{Path: s.engine.Workspace().Path}, nil
}

type indexInput struct {
	ProjectID string   `json:"project_id,omitempty" jsonschema:"index only this project; empty indexes the whole workspace"`
	Paths     []string `json:"paths,omitempty" jsonschema:"restrict the run to these path globs, requires project_id"`
}

type indexOutput struct {
	Summaries map[string]indexer.Summary `json:"summaries"`
	Failures  map[string]string          `json:"failures,omitempty" jsonschema:"per-project error messages"`
}

func (s *Server) handleIndex(ctx context.Context, in indexInput) (indexOutput, error) {
	if len(in.Paths) > 0 && in.ProjectID == "" {
		return indexOutput{}, invalidParams("paths require project_id")
	}

	if in.ProjectID != "" {
		summary, err := s.engine.IndexProject(ctx, in.ProjectID, in.Paths...)
		if err != nil {
			return indexOutput{}, mapErr(err)
		}
		return indexOutput{Summaries: map[string]indexer.Summary{in.ProjectID: *summary}}, nil
	}

	summaries, errs := s.engine.IndexAll(ctx, true)
	out := indexOutput{Summaries: make(map[string]indexer.Summary, len(summaries))}
	for id, sum := range summaries {
		out.Summaries[id] = *sum
	}
	if len(errs) > 0 {
		out.Failures = make(map[string]string, len(errs))
		for id, err := range errs {
			out.Failures[id] = err.Error()
		}
	}
	return out, nil
}

type statusInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"report only this project; empty reports all"`
}

type projectStatus struct {
	Status       string    `json:"status"`
	FilesIndexed int       `json:"files_indexed"`
	Errors       []string  `json:"errors,omitempty"`
	LastFullScan time.Time `json:"last_full_scan,omitempty"`
}

type statusOutput struct {
	Projects map[string]projectStatus `json:"projects"`
}

func toProjectStatus(state workspace.IndexingState) projectStatus {
	return projectStatus{
		Status:       string(state.Status),
		FilesIndexed: state.FilesIndexed,
		Errors:       state.Errors,
		LastFullScan: state.LastFullScanTS,
	}
}

func (s *Server) handleStatus(_ context.Context, in statusInput) (statusOutput, error) {
	if in.ProjectID != "" {
		state, err := s.engine.Status(in.ProjectID)
		if err != nil {
			return statusOutput{}, mapErr(err)
		}
		return statusOutput{Projects: map[string]projectStatus{in.ProjectID: toProjectStatus(state)}}, nil
	}

	states := s.engine.Statuses()
	out := statusOutput{Projects: make(map[string]projectStatus, len(states))}
	for id, state := range states {
		out.Projects[id] = toProjectStatus(state)
	}
	return out, nil
}

type searchInput struct {
	Query     string `json:"query" jsonschema:"natural language search query"`
	Scope     string `json:"scope,omitempty" jsonschema:"project, dependencies, workspace or related; defaults to the workspace setting"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"anchor project, required for non-workspace scopes"`
	UserID    string `json:"user_id,omitempty" jsonschema:"user whose context boosts ranking"`
	K         int    `json:"k,omitempty" jsonschema:"maximum results, default 10"`
}

type searchOutput struct {
	Results     []searchHit `json:"results"`
	Fingerprint string      `json:"fingerprint" jsonschema:"cache fingerprint of this query"`
	FromCache   bool        `json:"from_cache"`
}

func (s *Server) handleSearch(ctx context.Context, in searchInput) (searchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return searchOutput{}, invalidParams("query is required")
	}
	resp, err := s.engine.Search(ctx, query.Request{
		Query:     in.Query,
		Scope:     workspace.Scope(in.Scope),
		ProjectID: in.ProjectID,
		UserID:    in.UserID,
		K:         in.K,
	})
	if err != nil {
		return searchOutput{}, mapErr(err)
	}
	return searchOutput{
		Results:     toHits(resp.Results),
		Fingerprint: resp.Fingerprint,
		FromCache:   resp.FromCache,
	}, nil
}

type templateInput struct {
	Name      string            `json:"name" jsonschema:"template name, builtin or registered"`
	Params    map[string]string `json:"params,omitempty" jsonschema:"values for the template's placeholders"`
	Scope     string            `json:"scope,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	K         int               `json:"k,omitempty"`
}

func (s *Server) handleTemplate(ctx context.Context, in templateInput) (searchOutput, error) {
	if strings.TrimSpace(in.Name) == "" {
		return searchOutput{}, invalidParams("name is required")
	}
	resp, err := s.engine.SearchTemplate(ctx, engine.TemplateRequest{
		Name:      in.Name,
		Params:    in.Params,
		Scope:     workspace.Scope(in.Scope),
		ProjectID: in.ProjectID,
		K:         in.K,
	})
	if err != nil {
		return searchOutput{}, mapErr(err)
	}
	return searchOutput{
		Results:     toHits(resp.Results),
		Fingerprint: resp.Fingerprint,
		FromCache:   resp.FromCache,
	}, nil
}

type contextUpdateInput struct {
	UserID    string `json:"user_id" jsonschema:"user the event belongs to"`
	Event     string `json:"event" jsonschema:"file_opened, file_closed, file_edited or query_issued"`
	Path      string `json:"path,omitempty" jsonschema:"file path, for file events"`
	ProjectID string `json:"project_id,omitempty"`
	Query     string `json:"query,omitempty" jsonschema:"query text, for query_issued"`
}

type contextUpdateOutput struct {
	UserID        string `json:"user_id"`
	CurrentFile   string `json:"current_file,omitempty"`
	RecentFiles   int    `json:"recent_files"`
	RecentQueries int    `json:"recent_queries"`
}

func (s *Server) handleContextUpdate(ctx context.Context, in contextUpdateInput) (contextUpdateOutput, error) {
	if s.sessions == nil {
		return contextUpdateOutput{}, badRequest("session tracking is not enabled")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return contextUpdateOutput{}, invalidParams("user_id is required")
	}
	evType := session.EventType(in.Event)
	if !session.ValidEventType(evType) {
		return contextUpdateOutput{}, invalidParams("unknown event %q", in.Event)
	}

	err := s.sessions.Update(ctx, in.UserID, session.Event{
		Type:      evType,
		Path:      in.Path,
		ProjectID: in.ProjectID,
		Query:     in.Query,
		At:        time.Now(),
	})
	if err != nil {
		return contextUpdateOutput{}, mapErr(err)
	}
	if evType == session.EventFileEdited && in.Path != "" {
		s.engine.InvalidatePaths(ctx, []string{in.Path})
	}

	snap, err := s.sessions.Snapshot(ctx, in.UserID)
	if err != nil {
		return contextUpdateOutput{}, mapErr(err)
	}
	return contextUpdateOutput{
		UserID:        snap.UserID,
		CurrentFile:   snap.CurrentFile,
		RecentFiles:   len(snap.RecentFiles),
		RecentQueries: len(snap.RecentQueries),
	}, nil
}

// registerTools wires every handler into the SDK server. Handlers stay
// separate methods so they are testable without a transport.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace.discover",
		Description: "Scan a directory tree and draft a workspace config: one project per detected manifest, with type, languages and dependencies filled in.",
	}, wrap(s, "workspace.discover", s.handleDiscover))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace.load",
		Description: "Load a workspace config file and build per-project indexers.",
	}, wrap(s, "workspace.load", s.handleLoad))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace.save",
		Description: "Write the current workspace config to disk.",
	}, wrap(s, "workspace.save", s.handleSave))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace.index",
		Description: "Index one project or the whole workspace. Unchanged files are skipped; summaries report per-project file counts.",
	}, wrap(s, "workspace.index", s.handleIndex))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace.status",
		Description: "Report per-project indexing state: status, file counts and recent errors.",
	}, wrap(s, "workspace.status", s.handleStatus))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search indexed code and docs across the workspace. Scope narrows to a project, its dependencies or related projects; results are ranked with the caller's working context.",
	}, wrap(s, "search", s.handleSearch))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search.template",
		Description: "Run a named search template such as api_endpoints or error_handling. Template results are cached durably and refreshed when indexed files change.",
	}, wrap(s, "search.template", s.handleTemplate))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "context.update",
		Description: "Record a user activity event (file opened/closed/edited, query issued) so later searches rank with fresh working context.",
	}, wrap(s, "context.update", s.handleContextUpdate))
}

// wrap adapts a typed handler to the SDK signature, logging latency and
// mapping errors on the way out.
func wrap[In, Out any](s *Server, name string, h func(context.Context, In) (Out, error)) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		out, err := h(ctx, in)
		if err != nil {
			s.logger.Warn("tool failed", "tool", name, "duration", time.Since(start), "error", err)
			var zero Out
			return nil, zero, err
		}
		s.logger.Debug("tool done", "tool", name, "duration", time.Since(start))
		return nil, out, nil
	}
}
