package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/engine"
	"github.com/latticemcp/lattice/internal/query"
	"github.com/latticemcp/lattice/internal/ui"
	"github.com/latticemcp/lattice/internal/workspace"
)

func newSearchCmd() *cobra.Command {
	var (
		scope    string
		project  string
		user     string
		k        int
		asJSON   bool
		template string
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed code and docs",
		Long: `Runs a natural language query across the workspace, or a named
template with --template. Scope narrows the search to one project, its
dependencies or related projects.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if template == "" && len(args) == 0 {
				return fmt.Errorf("a query or --template is required")
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var resp *query.Response
			if template != "" {
				resp, err = a.engine.SearchTemplate(ctx, engine.TemplateRequest{
					Name:      template,
					Params:    parseParams(params),
					Scope:     workspace.Scope(scope),
					ProjectID: project,
					K:         k,
				})
			} else {
				resp, err = a.engine.Search(ctx, query.Request{
					Query:     strings.Join(args, " "),
					Scope:     workspace.Scope(scope),
					ProjectID: project,
					UserID:    user,
					K:         k,
				})
			}
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(resp)
			}
			printResults(resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Search scope: project, dependencies, workspace or related")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Anchor project for non-workspace scopes")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User whose working context boosts ranking")
	cmd.Flags().IntVarP(&k, "limit", "k", 0, "Maximum results (default 10)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit results as JSON")
	cmd.Flags().StringVarP(&template, "template", "t", "", "Run a named search template instead of a free query")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Template parameter as key=value, repeatable")
	return cmd
}

// parseParams turns repeated key=value flags into a map.
func parseParams(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		out[key] = value
	}
	return out
}

func printResults(resp *query.Response) {
	styles := ui.GetStyles(flagNoColor || !ui.IsTTY(os.Stdout))

	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range resp.Results {
		location := r.Path
		if r.SymbolName != "" {
			location += "  " + r.SymbolName
		}
		fmt.Printf("%2d. %s %s\n", i+1,
			styles.Header.Render(fmt.Sprintf("[%s]", r.ProjectID)),
			styles.Project.Render(location))
		if snippet := firstLine(r.Snippet); snippet != "" {
			fmt.Printf("    %s\n", styles.Label.Render(snippet))
		}
		fmt.Printf("    %s\n", styles.Dim.Render(fmt.Sprintf("score %.3f", r.FinalScore)))
	}
	if resp.FromCache {
		fmt.Println(styles.Dim.Render("(cached)"))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
