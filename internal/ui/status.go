package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/latticemcp/lattice/internal/workspace"
)

// ProjectStatus is one row of the workspace status report.
type ProjectStatus struct {
	ProjectID    string    `json:"project_id"`
	Type         string    `json:"type,omitempty"`
	Status       string    `json:"status"`
	FilesIndexed int       `json:"files_indexed"`
	Errors       int       `json:"errors"`
	LastFullScan time.Time `json:"last_full_scan,omitempty"`
	Monitoring   bool      `json:"monitoring"`
}

// StatusReport is what `lattice status` renders.
type StatusReport struct {
	Workspace string          `json:"workspace"`
	Embedder  string          `json:"embedder,omitempty"`
	Projects  []ProjectStatus `json:"projects"`
}

// StatusRenderer writes workspace status as a table or JSON.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the report as an aligned table, projects sorted by id.
func (r *StatusRenderer) Render(report StatusReport) error {
	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render("Workspace: "+report.Workspace))
	if report.Embedder != "" {
		_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Label.Render("Embedder:  "+report.Embedder))
	}
	_, _ = fmt.Fprintln(r.out)

	rows := make([]ProjectStatus, len(report.Projects))
	copy(rows, report.Projects)
	sort.Slice(rows, func(a, b int) bool { return rows[a].ProjectID < rows[b].ProjectID })

	idWidth := len("PROJECT")
	for _, row := range rows {
		if len(row.ProjectID) > idWidth {
			idWidth = len(row.ProjectID)
		}
	}

	_, _ = fmt.Fprintf(r.out, "  %-*s  %-12s  %7s  %7s  %s\n",
		idWidth, "PROJECT", "STATUS", "FILES", "ERRORS", "LAST SCAN")
	for _, row := range rows {
		scan := "never"
		if !row.LastFullScan.IsZero() {
			scan = formatAge(row.LastFullScan)
		}
		if row.Monitoring {
			scan += " (watching)"
		}
		_, _ = fmt.Fprintf(r.out, "  %-*s  %-12s  %7d  %7d  %s\n",
			idWidth, row.ProjectID, r.renderState(row.Status), row.FilesIndexed, row.Errors, scan)
	}
	return nil
}

// RenderJSON writes the report as indented JSON.
func (r *StatusRenderer) RenderJSON(report StatusReport) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (r *StatusRenderer) renderState(status string) string {
	switch workspace.IndexStatus(status) {
	case workspace.StatusReady:
		return r.styles.Success.Render(pad(status, 12))
	case workspace.StatusIndexing:
		return r.styles.Active.Render(pad(status, 12))
	case workspace.StatusFailed:
		return r.styles.Error.Render(pad(status, 12))
	default:
		return r.styles.Dim.Render(pad(status, 12))
	}
}

// pad keeps column alignment when styles add invisible escape codes.
func pad(s string, n int) string {
	for len(s) < n {
		s += " "
	}
	return s
}

// formatAge renders a timestamp as a relative age.
func formatAge(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count in human units.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
