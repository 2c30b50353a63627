package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// document is the serialized graph form.
type document struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalJSON serializes the graph deterministically: nodes sorted by id,
// edges by (from, to, type).
func (g *Graph) MarshalJSON() ([]byte, error) {
	doc := document{
		Nodes: g.Nodes(),
		Edges: g.Edges(EdgeFilter{}),
	}
	if doc.Nodes == nil {
		doc.Nodes = []Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON rebuilds a graph from its serialized form.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode graph: %w", err)
	}

	fresh := New()
	for _, n := range doc.Nodes {
		if err := fresh.AddNode(n); err != nil {
			return fmt.Errorf("decode graph: %w", err)
		}
	}
	for _, e := range doc.Edges {
		if err := fresh.AddEdge(e); err != nil {
			return fmt.Errorf("decode graph: %w", err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = fresh.nodes
	g.out = fresh.out
	g.in = fresh.in
	if g.reach == nil {
		g.reach = fresh.reach
	} else {
		g.reach.Purge()
	}
	g.sim = make(map[string]float64)
	return nil
}

// DOT renders the graph in Graphviz format for visualization.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph workspace {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=rounded];\n")
	for _, n := range g.Nodes() {
		label := n.ID
		if n.Type != "" {
			label = fmt.Sprintf("%s\\n(%s)", n.ID, n.Type)
		}
		fmt.Fprintf(&b, "  %q [label=%q];\n", n.ID, label)
	}
	for _, e := range g.Edges(EdgeFilter{}) {
		fmt.Fprintf(&b, "  %q -> %q [label=%q, weight=%.2f];\n", e.From, e.To, string(e.Type), e.Weight)
	}
	b.WriteString("}\n")
	return b.String()
}
