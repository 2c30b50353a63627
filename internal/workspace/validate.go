package workspace

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Kind distinguishes validation failure classes.
type Kind string

const (
	// KindMalformed: the document is not valid JSON.
	KindMalformed Kind = "malformed"
	// KindSchema: a field violates its type, enum, or range.
	KindSchema Kind = "schema"
	// KindUnknownReference: an id references a project that does not exist.
	KindUnknownReference Kind = "unknown_reference"
	// KindDuplicateID: two projects share an id.
	KindDuplicateID Kind = "duplicate_id"
	// KindSelfReference: a relationship points a project at itself.
	KindSelfReference Kind = "self_reference"
	// KindCycle: dependency edges form a cycle.
	KindCycle Kind = "cycle"
	// KindMissingPath: a project path does not exist on disk.
	KindMissingPath Kind = "missing_path"
)

// ValidationError reports why a workspace is invalid.
type ValidationError struct {
	Kind    Kind
	Message string
	// Cycle holds the offending path for KindCycle, e.g. [a b c a].
	Cycle []string
}

func (e *ValidationError) Error() string {
	if e.Kind == KindCycle && len(e.Cycle) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Cycle, " -> "))
	}
	return e.Message
}

var (
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	idPattern      = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// ValidateOptions controls optional checks.
type ValidateOptions struct {
	// CheckPaths verifies that every project path exists on disk.
	CheckPaths bool
}

// Validate checks the workspace invariants without touching the
// filesystem.
func (w *Workspace) Validate() error {
	return w.ValidateWith(ValidateOptions{})
}

// ValidateWith checks the workspace invariants.
func (w *Workspace) ValidateWith(opts ValidateOptions) error {
	if !versionPattern.MatchString(w.Version) {
		return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("version %q does not match MAJOR.MINOR.PATCH", w.Version)}
	}
	if w.Name == "" {
		return &ValidationError{Kind: KindSchema, Message: "workspace name is required"}
	}

	seen := make(map[string]bool, len(w.Projects))
	for i := range w.Projects {
		p := &w.Projects[i]
		if !idPattern.MatchString(p.ID) {
			return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("project id %q must contain only letters, digits, and underscores", p.ID)}
		}
		if seen[p.ID] {
			return &ValidationError{Kind: KindDuplicateID, Message: fmt.Sprintf("duplicate project id %q", p.ID)}
		}
		seen[p.ID] = true
		if p.Name == "" {
			return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("project %q: name is required", p.ID)}
		}
		if p.Path == "" {
			return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("project %q: path is required", p.ID)}
		}
		if !ValidProjectType(p.Type) {
			return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("project %q: unknown type %q", p.ID, p.Type)}
		}
		if !ValidPriority(p.Indexing.Priority) {
			return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("project %q: unknown priority %q", p.ID, p.Indexing.Priority)}
		}
	}

	for i := range w.Projects {
		p := &w.Projects[i]
		for _, dep := range p.Dependencies {
			if !seen[dep] {
				return &ValidationError{Kind: KindUnknownReference, Message: fmt.Sprintf("project %q depends on unknown project %q", p.ID, dep)}
			}
			if dep == p.ID {
				return &ValidationError{Kind: KindSelfReference, Message: fmt.Sprintf("project %q depends on itself", p.ID)}
			}
		}
	}

	for i := range w.Relationships {
		r := &w.Relationships[i]
		if !ValidRelationType(r.Type) {
			return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("relationship %s -> %s: unknown type %q", r.FromID, r.ToID, r.Type)}
		}
		if r.FromID == r.ToID {
			return &ValidationError{Kind: KindSelfReference, Message: fmt.Sprintf("relationship on %q references itself", r.FromID)}
		}
		if !seen[r.FromID] {
			return &ValidationError{Kind: KindUnknownReference, Message: fmt.Sprintf("relationship references unknown project %q", r.FromID)}
		}
		if !seen[r.ToID] {
			return &ValidationError{Kind: KindUnknownReference, Message: fmt.Sprintf("relationship references unknown project %q", r.ToID)}
		}
		if r.Weight < 0 || r.Weight > 1 {
			return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("relationship %s -> %s: weight %.2f outside [0, 1]", r.FromID, r.ToID, r.Weight)}
		}
	}

	if !ValidScope(w.Search.DefaultScope) {
		return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("unknown default scope %q", w.Search.DefaultScope)}
	}
	if b := w.Search.RelationshipBoost; b != 0 && (b < 1.0 || b > 3.0) {
		return &ValidationError{Kind: KindSchema, Message: fmt.Sprintf("relationship_boost %.2f outside [1.0, 3.0]", b)}
	}

	if cycle := w.findDependencyCycle(); cycle != nil {
		return &ValidationError{
			Kind:    KindCycle,
			Message: "dependency cycle detected",
			Cycle:   cycle,
		}
	}

	if opts.CheckPaths {
		for i := range w.Projects {
			p := &w.Projects[i]
			path := p.AbsPath
			if path == "" {
				path = p.Path
			}
			if info, err := os.Stat(path); err != nil || !info.IsDir() {
				return &ValidationError{Kind: KindMissingPath, Message: fmt.Sprintf("project %q: path %s does not exist", p.ID, path)}
			}
		}
	}

	return nil
}

// dependencyEdges returns the adjacency over the dependency subgraph:
// project dependency lists plus relationships typed dependency.
// Relationship edges of other types may cycle freely.
func (w *Workspace) dependencyEdges() map[string][]string {
	adj := make(map[string][]string, len(w.Projects))
	for i := range w.Projects {
		p := &w.Projects[i]
		adj[p.ID] = append(adj[p.ID], p.Dependencies...)
	}
	for i := range w.Relationships {
		r := &w.Relationships[i]
		if r.Type == RelDependency {
			adj[r.FromID] = append(adj[r.FromID], r.ToID)
		}
	}
	return adj
}

// findDependencyCycle runs DFS with a recursion set and returns one cycle
// path (first and last element equal), or nil when the subgraph is a DAG.
func (w *Workspace) findDependencyCycle() []string {
	adj := w.dependencyEdges()

	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // done
	)
	color := make(map[string]int, len(adj))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				// Found a back edge; slice the stack from next onward.
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for i := range w.Projects {
		id := w.Projects[i].ID
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
