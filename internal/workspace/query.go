package workspace

import "sort"

// Project returns the project with the given id, or nil.
func (w *Workspace) Project(id string) *Project {
	for i := range w.Projects {
		if w.Projects[i].ID == id {
			return &w.Projects[i]
		}
	}
	return nil
}

// ProjectIDs returns all project ids in declaration order.
func (w *Workspace) ProjectIDs() []string {
	ids := make([]string, len(w.Projects))
	for i := range w.Projects {
		ids[i] = w.Projects[i].ID
	}
	return ids
}

// EnabledProjects returns the projects with indexing enabled, in
// declaration order.
func (w *Workspace) EnabledProjects() []Project {
	var out []Project
	for i := range w.Projects {
		if w.Projects[i].Indexing.IsEnabled() {
			out = append(out, w.Projects[i])
		}
	}
	return out
}

// Dependencies returns the ids a project depends on. With transitive set,
// it walks the dependency subgraph breadth-first; results are sorted and
// exclude the project itself.
func (w *Workspace) Dependencies(id string, transitive bool) []string {
	p := w.Project(id)
	if p == nil {
		return nil
	}
	if !transitive {
		out := append([]string{}, p.Dependencies...)
		sort.Strings(out)
		return out
	}

	adj := w.dependencyEdges()
	visited := map[string]bool{id: true}
	queue := append([]string{}, adj[id]...)
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		out = append(out, next)
		queue = append(queue, adj[next]...)
	}
	sort.Strings(out)
	return out
}

// Dependents returns the ids of projects that directly depend on id,
// sorted.
func (w *Workspace) Dependents(id string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(from string) {
		if from != id && !seen[from] {
			seen[from] = true
			out = append(out, from)
		}
	}
	for i := range w.Projects {
		p := &w.Projects[i]
		for _, dep := range p.Dependencies {
			if dep == id {
				add(p.ID)
			}
		}
	}
	for i := range w.Relationships {
		r := &w.Relationships[i]
		if r.Type == RelDependency && r.ToID == id {
			add(r.FromID)
		}
	}
	sort.Strings(out)
	return out
}

// RelationshipsOf filters relationships by project id and type. Empty id
// matches all projects; empty type matches all types. An edge matches an
// id on either endpoint.
func (w *Workspace) RelationshipsOf(id string, rtype RelationType) []Relationship {
	var out []Relationship
	for i := range w.Relationships {
		r := w.Relationships[i]
		if id != "" && r.FromID != id && r.ToID != id {
			continue
		}
		if rtype != "" && r.Type != rtype {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Neighbours returns the ids related to id by any relationship edge,
// in either direction, sorted.
func (w *Workspace) Neighbours(id string) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range w.Relationships {
		r := &w.Relationships[i]
		var other string
		switch id {
		case r.FromID:
			other = r.ToID
		case r.ToID:
			other = r.FromID
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// AddProject appends a project after checking id uniqueness.
func (w *Workspace) AddProject(p Project) error {
	if !idPattern.MatchString(p.ID) {
		return &ValidationError{Kind: KindSchema, Message: "project id must contain only letters, digits, and underscores"}
	}
	if w.Project(p.ID) != nil {
		return &ValidationError{Kind: KindDuplicateID, Message: "project id already exists: " + p.ID}
	}
	if p.Indexing.Priority == "" {
		p.Indexing.Priority = PriorityMedium
	}
	w.Projects = append(w.Projects, p)
	return nil
}

// RemoveProject deletes a project and every edge touching it. Other
// projects' dependency lists are pruned as well.
func (w *Workspace) RemoveProject(id string) bool {
	idx := -1
	for i := range w.Projects {
		if w.Projects[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	w.Projects = append(w.Projects[:idx], w.Projects[idx+1:]...)

	rels := w.Relationships[:0]
	for _, r := range w.Relationships {
		if r.FromID != id && r.ToID != id {
			rels = append(rels, r)
		}
	}
	w.Relationships = rels

	for i := range w.Projects {
		deps := w.Projects[i].Dependencies[:0]
		for _, d := range w.Projects[i].Dependencies {
			if d != id {
				deps = append(deps, d)
			}
		}
		w.Projects[i].Dependencies = deps
	}
	return true
}
