package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/workspace"
)

func newValidateCmd() *cobra.Command {
	var checkPaths bool

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a workspace config",
		Long: `Checks a workspace config for schema problems, duplicate ids,
dangling references and dependency cycles. With --paths each project
directory must also exist on disk.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			var err error
			if len(args) == 1 {
				path = args[0]
			} else {
				path, err = findWorkspace()
				if err != nil {
					return fmt.Errorf("no workspace config found: %w", err)
				}
			}

			ws, err := workspace.Load(path)
			if err != nil {
				return err
			}
			if err := ws.ValidateWith(workspace.ValidateOptions{CheckPaths: checkPaths}); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Printf("%s: ok (%d projects, %d relationships)\n", path, len(ws.Projects), len(ws.Relationships))
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkPaths, "paths", true, "Require project directories to exist")
	return cmd
}
