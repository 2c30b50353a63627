package cmd

import (
	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var watch bool
	var lazy bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace over MCP on stdio",
		Long: `Starts the Model Context Protocol server on stdin/stdout. This is
what editor integrations launch; logs go to the log file, never to
stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.wsPath != "" {
				failures := a.engine.Initialize(ctx, lazy)
				for id, err := range failures {
					a.logger.Warn("project failed to initialize", "project", id, "error", err)
				}
				if watch {
					if err := a.engine.StartMonitoring(ctx); err != nil {
						a.logger.Warn("file monitoring unavailable", "error", err)
					}
					defer a.engine.StopMonitoring()
				}
			}

			srv, err := mcp.NewServer(mcp.Options{
				Engine:   a.engine,
				Sessions: a.sessions,
				Config:   a.cfg,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "Re-index files as they change")
	cmd.Flags().BoolVar(&lazy, "lazy", false, "Defer per-project store setup until first use")
	return cmd
}
