package graph

import (
	"fmt"
	"sort"

	"github.com/latticemcp/lattice/internal/workspace"
)

// ShortestPath returns the fewest-hop directed path from -> to over all
// edge types, BFS. Returns nil when no path exists; a single-element path
// when from == to.
func (g *Graph) ShortestPath(from, to string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	if from == to {
		return []string{from}
	}

	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.sortedOut(cur) {
			if _, seen := prev[e.To]; seen {
				continue
			}
			prev[e.To] = cur
			if e.To == to {
				return rebuildPath(prev, from, to)
			}
			queue = append(queue, e.To)
		}
	}
	return nil
}

// AllPaths returns every simple directed path from -> to with at most
// maxDepth edges, DFS. Paths are returned in lexicographic visit order.
func (g *Graph) AllPaths(from, to string, maxDepth int) [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if maxDepth <= 0 {
		maxDepth = len(g.nodes)
	}

	var paths [][]string
	onPath := map[string]bool{from: true}
	path := []string{from}

	var walk func(cur string)
	walk = func(cur string) {
		if cur == to && len(path) > 1 {
			paths = append(paths, append([]string{}, path...))
			return
		}
		if len(path)-1 >= maxDepth {
			return
		}
		for _, e := range g.sortedOut(cur) {
			if onPath[e.To] {
				continue
			}
			onPath[e.To] = true
			path = append(path, e.To)
			walk(e.To)
			path = path[:len(path)-1]
			delete(onPath, e.To)
		}
	}
	if _, ok := g.nodes[from]; ok {
		walk(from)
	}
	return paths
}

// TopoOrder returns a topological order of all nodes over dependency
// edges (Kahn). Nodes with equal rank come out sorted by id so the order
// is deterministic. Dependencies come before their dependents. Returns an
// error naming a cycle when the dependency subgraph is not a DAG.
func (g *Graph) TopoOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// indeg[n] counts n's unprocessed dependencies: an edge a -> b means
	// a depends on b, so b must be emitted before a.
	indeg := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		indeg[id] = 0
	}
	for from, edges := range g.out {
		for _, e := range edges {
			if e.Type != workspace.RelDependency {
				continue
			}
			indeg[from]++
			dependents[e.To] = append(dependents[e.To], from)
		}
	}

	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := append([]string{}, dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		cycle := g.detectCycleLocked()
		return nil, fmt.Errorf("dependency cycle: %v", cycle)
	}
	return order, nil
}

// DetectCycle returns one cycle over dependency edges as a closed path
// (first element repeated last), or nil when the subgraph is a DAG.
func (g *Graph) DetectCycle() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCycleLocked()
}

func (g *Graph) detectCycleLocked() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, e := range g.sortedOut(id) {
			if e.Type != workspace.RelDependency {
				continue
			}
			switch color[e.To] {
			case gray:
				for i, s := range stack {
					if s == e.To {
						cycle = append(append([]string{}, stack[i:]...), e.To)
						return true
					}
				}
			case white:
				if visit(e.To) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// sortedOut returns a node's outgoing edges ordered by (to, type) for
// deterministic traversal. Caller holds at least a read lock.
func (g *Graph) sortedOut(id string) []Edge {
	edges := append([]Edge{}, g.out[id]...)
	sortEdges(edges)
	return edges
}

func rebuildPath(prev map[string]string, from, to string) []string {
	var rev []string
	for cur := to; cur != ""; cur = prev[cur] {
		rev = append(rev, cur)
		if cur == from {
			break
		}
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
