package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-project indexing status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ws := a.engine.Workspace()
			report := ui.StatusReport{
				Workspace: ws.Name,
				Embedder: fmt.Sprintf("%s (%d dims)",
					a.embedder.ModelName(), a.embedder.Dimensions()),
			}
			for id, state := range a.engine.Statuses() {
				row := ui.ProjectStatus{
					ProjectID:    id,
					Status:       string(state.Status),
					FilesIndexed: state.FilesIndexed,
					Errors:       len(state.Errors),
					LastFullScan: state.LastFullScanTS,
				}
				if p := ws.Project(id); p != nil {
					row.Type = string(p.Type)
				}
				report.Projects = append(report.Projects, row)
			}

			r := ui.NewStatusRenderer(os.Stdout, flagNoColor || !ui.IsTTY(os.Stdout))
			if asJSON {
				if err := r.RenderJSON(report); err != nil {
					return err
				}
			} else {
				if err := r.Render(report); err != nil {
					return err
				}
				if n, err := dirSize(a.dataDir); err == nil {
					fmt.Printf("\nData: %s in %s\n", ui.FormatBytes(n), a.dataDir)
				}
			}

			if !verify {
				return nil
			}
			result, err := a.engine.Verify(ctx)
			if err != nil {
				return err
			}
			if result.OK() {
				fmt.Println("\nConsistency check passed.")
				return nil
			}
			fmt.Println("\nConsistency problems:")
			for id, problems := range result {
				for _, p := range problems {
					fmt.Printf("  %s: %s\n", id, p)
				}
			}
			return fmt.Errorf("consistency check failed")
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit status as JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "Cross-check vector, keyword and state stores")
	return cmd
}

// dirSize totals the file bytes under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
