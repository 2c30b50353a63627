// Package workspace defines the multi-project workspace model: the
// .context-workspace.json document, its validation rules, and read
// helpers over the project dependency structure.
package workspace

import (
	"time"
)

// DefaultFileName is the workspace config filename looked up in a
// directory when no explicit path is given.
const DefaultFileName = ".context-workspace.json"

// ProjectType classifies what a project is.
type ProjectType string

const (
	TypeWebFrontend   ProjectType = "web_frontend"
	TypeAPIServer     ProjectType = "api_server"
	TypeLibrary       ProjectType = "library"
	TypeDocumentation ProjectType = "documentation"
	TypeMobileApp     ProjectType = "mobile_app"
	TypeApplication   ProjectType = "application"
)

// ValidProjectType reports whether t is a known project type.
func ValidProjectType(t ProjectType) bool {
	switch t {
	case TypeWebFrontend, TypeAPIServer, TypeLibrary, TypeDocumentation, TypeMobileApp, TypeApplication:
		return true
	}
	return false
}

// RelationType classifies an edge between two projects.
type RelationType string

const (
	RelImports            RelationType = "imports"
	RelAPIClient          RelationType = "api_client"
	RelSharedDatabase     RelationType = "shared_database"
	RelEventDriven        RelationType = "event_driven"
	RelSemanticSimilarity RelationType = "semantic_similarity"
	RelDependency         RelationType = "dependency"
)

// ValidRelationType reports whether t is a known relationship type.
func ValidRelationType(t RelationType) bool {
	switch t {
	case RelImports, RelAPIClient, RelSharedDatabase, RelEventDriven, RelSemanticSimilarity, RelDependency:
		return true
	}
	return false
}

// Priority orders projects for indexing.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the scheduling rank; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium, "":
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, "":
		return true
	}
	return false
}

// Scope selects which projects a search targets.
type Scope string

const (
	ScopeProject      Scope = "project"
	ScopeDependencies Scope = "dependencies"
	ScopeWorkspace    Scope = "workspace"
	ScopeRelated      Scope = "related"
)

// ValidScope reports whether s is a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeProject, ScopeDependencies, ScopeWorkspace, ScopeRelated, "":
		return true
	}
	return false
}

// Workspace is the root document: a set of projects plus typed
// relationships between them.
type Workspace struct {
	Version       string         `json:"version"`
	Name          string         `json:"name"`
	Projects      []Project      `json:"projects"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Search        SearchConfig   `json:"search"`

	// Path is where the document was loaded from. Not serialized.
	Path string `json:"-"`
}

// Project is one source tree with its own collection and indexing state.
type Project struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Path         string         `json:"path"`
	Type         ProjectType    `json:"type"`
	Languages    []string       `json:"languages,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Indexing     IndexingConfig `json:"indexing"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// AbsPath is Path resolved against the workspace file directory.
	// Computed at load time; not serialized.
	AbsPath string `json:"-"`
}

// IndexingConfig controls how a project is indexed.
type IndexingConfig struct {
	// Enabled defaults to true when omitted.
	Enabled  *bool    `json:"enabled,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Exclude  []string `json:"exclude,omitempty"`
}

// IsEnabled reports whether indexing is on (nil means enabled).
func (c IndexingConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Relationship is a typed weighted edge between two projects.
type Relationship struct {
	FromID      string         `json:"from_id"`
	ToID        string         `json:"to_id"`
	Type        RelationType   `json:"type"`
	Weight      float64        `json:"weight"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SearchConfig tunes cross-project search for the workspace.
type SearchConfig struct {
	DefaultScope        Scope   `json:"default_scope,omitempty"`
	CrossProjectRanking bool    `json:"cross_project_ranking,omitempty"`
	RelationshipBoost   float64 `json:"relationship_boost,omitempty"`
}

// FileRecord describes one scanned file.
type FileRecord struct {
	ProjectID   string    `json:"project_id"`
	Path        string    `json:"path"`
	Language    string    `json:"language"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mtime"`
	ContentHash string    `json:"content_hash"`
}

// IndexStatus is the lifecycle state of a project indexer.
type IndexStatus string

const (
	StatusUninitialized IndexStatus = "uninitialized"
	StatusInitializing  IndexStatus = "initializing"
	StatusReady         IndexStatus = "ready"
	StatusIndexing      IndexStatus = "indexing"
	StatusFailed        IndexStatus = "failed"
)

// IndexingState is the persisted per-project indexing state.
type IndexingState struct {
	Status         IndexStatus       `json:"status"`
	FilesIndexed   int               `json:"files_indexed"`
	Errors         []string          `json:"errors,omitempty"`
	LastFullScanTS time.Time         `json:"last_full_scan_ts"`
	PerFile        map[string]string `json:"per_file,omitempty"`

	// Centroid is the running mean of the project's chunk embeddings,
	// over ChunkCount chunks. It feeds cross-project similarity.
	Centroid   []float32 `json:"centroid,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
}

// New returns an empty workspace with the current schema version.
func New(name string) *Workspace {
	return &Workspace{
		Version:  "2.0.0",
		Name:     name,
		Projects: []Project{},
		Search: SearchConfig{
			DefaultScope:        ScopeWorkspace,
			CrossProjectRanking: true,
			RelationshipBoost:   1.5,
		},
	}
}

// applyDefaults fills zero-valued optional fields after load.
func (w *Workspace) applyDefaults() {
	if w.Search.DefaultScope == "" {
		w.Search.DefaultScope = ScopeWorkspace
	}
	if w.Search.RelationshipBoost == 0 {
		w.Search.RelationshipBoost = 1.5
	}
	for i := range w.Projects {
		if w.Projects[i].Indexing.Priority == "" {
			w.Projects[i].Indexing.Priority = PriorityMedium
		}
	}
}
