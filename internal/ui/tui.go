package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer drives a bubbletea program showing one row per project.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *runModel
	tracker *RunTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewRunTracker()
	model := newRunModel(tracker, cfg.Workspace)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(event ProjectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Update(event)
	if r.program != nil {
		r.program.Send(projectMsg(event))
	}
}

// Error implements Renderer.
func (r *TUIRenderer) Error(event ProjectError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(warnMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats WorkspaceStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		// Do not hang on an unresponsive terminal.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type projectMsg ProjectEvent
type warnMsg ProjectError
type completeMsg WorkspaceStats
type tickMsg time.Time

// runModel is the bubbletea model for one indexing run.
type runModel struct {
	tracker   *RunTracker
	workspace string
	width     int
	quitting  bool
	complete  bool
	stats     WorkspaceStats
	spinner   spinner.Model
	bar       progress.Model
	styles    Styles
}

func newRunModel(tracker *RunTracker, workspaceName string) *runModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTeal))

	bar := progress.New(
		progress.WithSolidFill(ColorTeal),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &runModel{
		tracker:   tracker,
		workspace: workspaceName,
		spinner:   s,
		bar:       bar,
		styles:    DefaultStyles(),
		width:     80,
	}
}

// Init implements tea.Model.
func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 20
		if m.bar.Width < 20 {
			m.bar.Width = 20
		}

	case projectMsg, warnMsg:
		// State lives in the tracker; the message only forces a redraw.
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = WorkspaceStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *runModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	var b strings.Builder
	title := "lattice index"
	if m.workspace != "" {
		title += "  " + m.workspace
	}
	b.WriteString(m.styles.Header.Render(title) + "\n\n")

	for _, ev := range m.tracker.Projects() {
		b.WriteString(m.renderProject(ev) + "\n")
	}

	stats := m.tracker.Stats()
	b.WriteString("\n" + m.bar.ViewAs(stats.Progress))
	b.WriteString(m.styles.Label.Render(fmt.Sprintf("  %d/%d projects", stats.Done+stats.Failed, stats.Total)))
	b.WriteString("\n" + m.styles.Label.Render(fmt.Sprintf("%d files indexed, %d unchanged, elapsed %s",
		stats.Files, stats.Skipped, formatDuration(stats.Elapsed))))
	if stats.Errors > 0 {
		b.WriteString("  " + m.styles.Warning.Render(fmt.Sprintf("%d warnings", stats.Errors)))
	}
	b.WriteString("\n" + m.styles.Dim.Render("q to cancel") + "\n")
	return b.String()
}

func (m *runModel) renderProject(ev ProjectEvent) string {
	var icon string
	var style lipgloss.Style
	switch ev.Phase {
	case PhaseDone:
		icon, style = "●", m.styles.Success
	case PhaseFailed:
		icon, style = "✗", m.styles.Error
	case PhaseIndexing:
		icon, style = m.spinner.View(), m.styles.Active
	default:
		icon, style = "○", m.styles.Dim
	}

	detail := ""
	switch ev.Phase {
	case PhaseDone:
		detail = m.styles.Label.Render(fmt.Sprintf("%d files, %d unchanged", ev.FilesIndexed, ev.FilesSkipped))
	case PhaseFailed:
		detail = m.styles.Error.Render(ev.Message)
	case PhaseIndexing:
		if ev.Message != "" {
			detail = m.styles.Label.Render(ev.Message)
		}
	}
	return fmt.Sprintf("  %s %s  %s", style.Render(icon), m.styles.Project.Render(ev.ProjectID), detail)
}

func (m *runModel) renderComplete() string {
	var b strings.Builder
	b.WriteString(m.styles.Success.Render("Indexing complete") + "\n")
	b.WriteString(fmt.Sprintf("  %d projects, %d files indexed, %d unchanged in %s\n",
		m.stats.Projects, m.stats.Files, m.stats.Skipped, formatDuration(m.stats.Duration)))
	if m.stats.Failed > 0 {
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("  %d projects failed", m.stats.Failed)) + "\n")
	}
	if m.stats.Errors > 0 {
		b.WriteString(m.styles.Warning.Render(fmt.Sprintf("  %d warnings", m.stats.Errors)) + "\n")
	}
	return b.String()
}

// formatDuration renders a duration compactly: 1m05s, 12.3s, 450ms.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}
