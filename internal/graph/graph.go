// Package graph maintains the directed project relationship graph: typed
// weighted edges between project ids, path queries, topological order
// over dependency edges, and the reachability and similarity caches the
// search path consults.
package graph

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/latticemcp/lattice/internal/workspace"
)

// reachCacheSize bounds the (id, depth) reachability cache.
const reachCacheSize = 256

// Node is a project vertex.
type Node struct {
	ID   string                `json:"id"`
	Name string                `json:"name,omitempty"`
	Type workspace.ProjectType `json:"type,omitempty"`
}

// Edge is a typed weighted edge between two projects.
type Edge struct {
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	Type        workspace.RelationType `json:"type"`
	Weight      float64                `json:"weight"`
	Description string                 `json:"description,omitempty"`
}

// EdgeFilter selects edges; zero fields match everything.
type EdgeFilter struct {
	From string
	To   string
	Type workspace.RelationType
}

// Graph is safe for concurrent use: one writer, many readers.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	out   map[string][]Edge
	in    map[string][]Edge

	reach *lru.Cache[string, []string]
	sim   map[string]float64
}

// New returns an empty graph.
func New() *Graph {
	reach, _ := lru.New[string, []string](reachCacheSize)
	return &Graph{
		nodes: make(map[string]Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
		reach: reach,
		sim:   make(map[string]float64),
	}
}

// FromWorkspace builds the graph for a workspace: one node per project,
// one edge per relationship, plus dependency edges (weight 1.0) from each
// project's dependency list.
func FromWorkspace(ws *workspace.Workspace) *Graph {
	g := New()
	for i := range ws.Projects {
		p := &ws.Projects[i]
		_ = g.AddNode(Node{ID: p.ID, Name: p.Name, Type: p.Type})
	}
	for i := range ws.Projects {
		p := &ws.Projects[i]
		for _, dep := range p.Dependencies {
			_ = g.AddEdge(Edge{From: p.ID, To: dep, Type: workspace.RelDependency, Weight: 1.0})
		}
	}
	for i := range ws.Relationships {
		r := &ws.Relationships[i]
		_ = g.AddEdge(Edge{From: r.FromID, To: r.ToID, Type: r.Type, Weight: r.Weight, Description: r.Description})
	}
	return g
}

// AddNode inserts a node. Adding an existing id is an error; use
// UpdateNode to change attributes.
func (g *Graph) AddNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("node %q already exists", n.ID)
	}
	g.nodes[n.ID] = n
	g.invalidateLocked()
	return nil
}

// UpdateNode replaces a node's attributes.
func (g *Graph) UpdateNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; !ok {
		return fmt.Errorf("node %q does not exist", n.ID)
	}
	g.nodes[n.ID] = n
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
	for from, edges := range g.out {
		g.out[from] = dropEdges(edges, func(e Edge) bool { return e.To == id })
	}
	for to, edges := range g.in {
		g.in[to] = dropEdges(edges, func(e Edge) bool { return e.From == id })
	}
	g.invalidateLocked()
	return true
}

// HasNode reports whether id exists.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddEdge inserts an edge. Both endpoints must exist; self-loops are
// rejected. A duplicate (from, to, type) is an error; use UpdateEdge.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e.From == e.To {
		return fmt.Errorf("self-loop on %q", e.From)
	}
	if _, ok := g.nodes[e.From]; !ok {
		return fmt.Errorf("unknown node %q", e.From)
	}
	if _, ok := g.nodes[e.To]; !ok {
		return fmt.Errorf("unknown node %q", e.To)
	}
	for _, existing := range g.out[e.From] {
		if existing.To == e.To && existing.Type == e.Type {
			return fmt.Errorf("edge %s -> %s (%s) already exists", e.From, e.To, e.Type)
		}
	}
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
	g.invalidateLocked()
	return nil
}

// UpdateEdge replaces the weight and description of an existing edge.
func (g *Graph) UpdateEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	updated := false
	for i, existing := range g.out[e.From] {
		if existing.To == e.To && existing.Type == e.Type {
			g.out[e.From][i] = e
			updated = true
			break
		}
	}
	if !updated {
		return fmt.Errorf("edge %s -> %s (%s) does not exist", e.From, e.To, e.Type)
	}
	for i, existing := range g.in[e.To] {
		if existing.From == e.From && existing.Type == e.Type {
			g.in[e.To][i] = e
			break
		}
	}
	g.invalidateLocked()
	return nil
}

// RemoveEdge deletes the edge (from, to, type).
func (g *Graph) RemoveEdge(from, to string, t workspace.RelationType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := len(g.out[from])
	g.out[from] = dropEdges(g.out[from], func(e Edge) bool { return e.To == to && e.Type == t })
	if len(g.out[from]) == before {
		return false
	}
	g.in[to] = dropEdges(g.in[to], func(e Edge) bool { return e.From == from && e.Type == t })
	g.invalidateLocked()
	return true
}

// Edges returns edges matching the filter, sorted by (from, to, type).
func (g *Graph) Edges(f EdgeFilter) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for _, edges := range g.out {
		for _, e := range edges {
			if f.From != "" && e.From != f.From {
				continue
			}
			if f.To != "" && e.To != f.To {
				continue
			}
			if f.Type != "" && e.Type != f.Type {
				continue
			}
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// Neighbours returns ids adjacent to id in either direction, sorted,
// with the strongest edge weight per neighbour.
func (g *Graph) Neighbours(id string) map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]float64)
	for _, e := range g.out[id] {
		if w, ok := out[e.To]; !ok || e.Weight > w {
			out[e.To] = e.Weight
		}
	}
	for _, e := range g.in[id] {
		if w, ok := out[e.From]; !ok || e.Weight > w {
			out[e.From] = e.Weight
		}
	}
	return out
}

func dropEdges(edges []Edge, drop func(Edge) bool) []Edge {
	out := edges[:0]
	for _, e := range edges {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Type < b.Type
	})
}
