package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/ui"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [project...]",
		Short: "Index projects in the workspace",
		Long: `Indexes the named projects, or every enabled project when none are
given. Files unchanged since the last run are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			targets := args
			if len(targets) == 0 {
				for _, p := range a.engine.Workspace().EnabledProjects() {
					targets = append(targets, p.ID)
				}
			}
			if len(targets) == 0 {
				return fmt.Errorf("workspace has no enabled projects")
			}

			for id, err := range a.engine.Initialize(ctx, false) {
				a.logger.Warn("project failed to initialize", "project", id, "error", err)
			}

			r := ui.NewRenderer(ui.Config{
				Output:     os.Stdout,
				ForcePlain: flagPlain,
				NoColor:    flagNoColor,
				Workspace:  a.engine.Workspace().Name,
			})
			if err := r.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = r.Stop() }()

			for _, id := range targets {
				r.Update(ui.ProjectEvent{ProjectID: id, Phase: ui.PhaseQueued})
			}

			start := time.Now()
			stats := ui.WorkspaceStats{Projects: len(targets)}
			for _, id := range targets {
				r.Update(ui.ProjectEvent{ProjectID: id, Phase: ui.PhaseIndexing})
				summary, err := a.engine.IndexProject(ctx, id)
				if err != nil {
					stats.Failed++
					r.Update(ui.ProjectEvent{ProjectID: id, Phase: ui.PhaseFailed, Message: err.Error()})
					continue
				}
				stats.Files += summary.FilesIndexed
				stats.Skipped += summary.FilesSkipped
				stats.Errors += len(summary.Errors)
				for _, msg := range summary.Errors {
					r.Error(ui.ProjectError{ProjectID: id, Err: fmt.Errorf("%s", msg)})
				}
				r.Update(ui.ProjectEvent{
					ProjectID:    id,
					Phase:        ui.PhaseDone,
					FilesIndexed: summary.FilesIndexed,
					FilesSkipped: summary.FilesSkipped,
				})
			}
			stats.Duration = time.Since(start)
			r.Complete(stats)

			if stats.Failed > 0 {
				return fmt.Errorf("%d of %d projects failed", stats.Failed, stats.Projects)
			}
			return nil
		},
	}
	return cmd
}
