package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/graph"
	"github.com/latticemcp/lattice/internal/ui"
)

func newGraphCmd() *cobra.Command {
	var asDOT bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the project relationship graph",
		Long: `Prints each project with its outgoing relationships. --dot emits
Graphviz DOT for rendering.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			g := a.engine.Graph()
			if asDOT {
				fmt.Print(g.DOT())
				return nil
			}

			styles := ui.GetStyles(flagNoColor || !ui.IsTTY(os.Stdout))
			nodes := g.Nodes()
			sort.Slice(nodes, func(a, b int) bool { return nodes[a].ID < nodes[b].ID })

			for _, n := range nodes {
				fmt.Printf("%s %s\n", styles.Header.Render(n.ID), styles.Dim.Render(string(n.Type)))
				edges := g.Edges(graph.EdgeFilter{From: n.ID})
				sort.Slice(edges, func(a, b int) bool {
					if edges[a].To != edges[b].To {
						return edges[a].To < edges[b].To
					}
					return edges[a].Type < edges[b].Type
				})
				for _, e := range edges {
					fmt.Printf("  %s %s (%s, %.1f)\n",
						styles.Dim.Render("->"), e.To, e.Type, e.Weight)
				}
			}

			if order, err := g.TopoOrder(); err == nil {
				fmt.Printf("\n%s %v\n", styles.Label.Render("Indexing order:"), order)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asDOT, "dot", false, "Emit Graphviz DOT")
	return cmd
}
