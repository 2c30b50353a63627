// Package discovery walks a directory tree and drafts a workspace
// config from what it finds: one project per directory holding a
// recognized manifest, with languages, a type guess and intra-workspace
// dependencies filled in. The draft always passes workspace validation;
// persisting it is the caller's choice.
package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/errors"
	"github.com/latticemcp/lattice/internal/workspace"
)

// Candidate is one discovered project before it becomes a draft entry.
type Candidate struct {
	ID           string
	Path         string
	AbsPath      string
	Markers      []string
	Languages    []string
	Type         workspace.ProjectType
	Confidence   float64
	Dependencies []string

	// manifest dependency names, matched against other candidates later
	depNames map[string]struct{}
}

// skipDirs are never descended into during the walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

var idCleanRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// Discover walks root to cfg.MaxDepth and returns a draft workspace.
func Discover(root string, cfg config.DiscoveryConfig) (*workspace.Workspace, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.CodeBadRequest, "resolve discovery root", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		return nil, errors.Newf(errors.CodeBadRequest, "discovery root %q is not a directory", root)
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	markers := markerTable(cfg.Markers)

	candidates := findCandidates(absRoot, maxDepth, markers)
	for i := range candidates {
		classify(&candidates[i], markers)
	}
	resolveDependencies(candidates)

	return draft(absRoot, candidates)
}

// findCandidates walks the tree collecting directories with markers.
// The workspace root itself is never a candidate: a marker there means
// the root is a single project, which the caller handles differently.
func findCandidates(root string, maxDepth int, markers map[string]markerHint) []Candidate {
	var out []Candidate
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || skipDirs[name] {
			return filepath.SkipDir
		}
		if strings.Count(rel, string(filepath.Separator))+1 > maxDepth {
			return filepath.SkipDir
		}

		found := markersIn(path, markers)
		if len(found) == 0 {
			return nil
		}
		out = append(out, Candidate{
			Path:     rel,
			AbsPath:  path,
			Markers:  found,
			depNames: map[string]struct{}{},
		})
		// Nested manifests under a recognized project (workspaces,
		// examples) stay part of the parent.
		return filepath.SkipDir
	})

	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	assignIDs(out)
	return out
}

func markersIn(dir string, markers map[string]markerHint) []string {
	var found []string
	for name := range markers {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			found = append(found, name)
		}
	}
	sort.Strings(found)
	return found
}

// assignIDs derives unique project ids from directory names.
func assignIDs(candidates []Candidate) {
	used := map[string]int{}
	for i := range candidates {
		id := idCleanRe.ReplaceAllString(filepath.Base(candidates[i].Path), "_")
		id = strings.Trim(id, "_")
		if id == "" {
			id = "project"
		}
		if n := used[id]; n > 0 {
			used[id] = n + 1
			id = id + "_" + strconv.Itoa(n)
		} else {
			used[id] = 1
		}
		candidates[i].ID = id
	}
}

// resolveDependencies links candidates whose manifests name each other.
// Edges that would close a cycle are dropped so the draft stays a DAG.
func resolveDependencies(candidates []Candidate) {
	byName := map[string]string{}
	for _, c := range candidates {
		byName[strings.ToLower(c.ID)] = c.ID
		byName[strings.ToLower(filepath.Base(c.Path))] = c.ID
	}

	deps := map[string][]string{}
	for i := range candidates {
		c := &candidates[i]
		for name := range c.depNames {
			target, ok := byName[strings.ToLower(name)]
			if !ok || target == c.ID {
				continue
			}
			if createsCycle(deps, c.ID, target) {
				continue
			}
			deps[c.ID] = append(deps[c.ID], target)
		}
		sort.Strings(deps[c.ID])
		c.Dependencies = deps[c.ID]
	}
}

// createsCycle reports whether adding from→to closes a dependency loop.
func createsCycle(deps map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{}
	stack := []string{to}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == from {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, deps[cur]...)
	}
	return false
}

// draft assembles the validated workspace document.
func draft(root string, candidates []Candidate) (*workspace.Workspace, error) {
	ws := workspace.New(filepath.Base(root))
	ws.Path = filepath.Join(root, workspace.DefaultFileName)

	for _, c := range candidates {
		p := workspace.Project{
			ID:           c.ID,
			Name:         filepath.Base(c.Path),
			Path:         c.Path,
			Type:         c.Type,
			Languages:    c.Languages,
			Dependencies: c.Dependencies,
			Metadata: map[string]any{
				"discovery_confidence": c.Confidence,
				"discovery_markers":    c.Markers,
			},
			AbsPath: c.AbsPath,
		}
		if err := ws.AddProject(p); err != nil {
			return nil, err
		}
	}

	for _, c := range candidates {
		for _, dep := range c.Dependencies {
			ws.Relationships = append(ws.Relationships, workspace.Relationship{
				FromID: c.ID,
				ToID:   dep,
				Type:   workspace.RelDependency,
				Weight: 1.0,
			})
		}
	}

	if err := ws.Validate(); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "discovered workspace failed validation", err)
	}
	return ws, nil
}
