package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/discovery"
	"github.com/latticemcp/lattice/internal/ui"
	"github.com/latticemcp/lattice/internal/workspace"
)

func newDiscoverCmd() *cobra.Command {
	var (
		depth int
		save  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "discover [root]",
		Short: "Draft a workspace config from a directory tree",
		Long: `Scans a directory for project manifests (go.mod, package.json,
pyproject.toml, ...) and drafts a workspace config with project types,
languages and intra-workspace dependencies. The draft prints to stdout;
--save writes it next to the root.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			var cfg *config.Config
			var err error
			if flagConfig != "" {
				cfg, err = config.Load(flagConfig)
			} else {
				cfg, err = config.LoadDefault(root)
			}
			if err != nil {
				return err
			}
			dcfg := cfg.Discovery
			if depth > 0 {
				dcfg.MaxDepth = depth
			}

			ws, err := discovery.Discover(root, dcfg)
			if err != nil {
				return err
			}

			styles := ui.GetStyles(flagNoColor || !ui.IsTTY(os.Stdout))
			fmt.Printf("%s\n\n", styles.Header.Render(fmt.Sprintf("Discovered %d projects under %s", len(ws.Projects), root)))
			for _, p := range ws.Projects {
				conf, _ := p.Metadata["discovery_confidence"].(float64)
				line := fmt.Sprintf("  %-20s %-15s %.0f%%", p.ID, p.Type, conf*100)
				if len(p.Dependencies) > 0 {
					line += fmt.Sprintf("  deps: %v", p.Dependencies)
				}
				fmt.Println(line)
			}

			if !save {
				fmt.Printf("\n%s\n", styles.Dim.Render("Re-run with --save to write "+workspace.DefaultFileName))
				return nil
			}

			dest := ws.Path
			if dest == "" {
				abs, err := filepath.Abs(root)
				if err != nil {
					return err
				}
				dest = filepath.Join(abs, workspace.DefaultFileName)
			}
			if _, err := os.Stat(dest); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", dest)
			}
			if err := ws.Save(dest); err != nil {
				return err
			}
			fmt.Printf("\nWrote %s\n", dest)
			return nil
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "Maximum directory depth to scan (default 3)")
	cmd.Flags().BoolVar(&save, "save", false, "Write the draft workspace config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing workspace config")
	return cmd
}
