package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. One teal accent plus neutrals.
const (
	ColorTeal     = "43"  // primary accent
	ColorTealDim  = "30"  // inactive accent
	ColorWhite    = "255" // headers
	ColorGray     = "245" // secondary text
	ColorDarkGray = "238" // separators
	ColorRed      = "196" // errors
	ColorYellow   = "220" // warnings
)

// Styles holds the lipgloss styles shared by the TUI and the status
// table.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Project lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Panel   lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorTeal)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTeal)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Project: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWhite)),
		Active:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorTeal)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Border:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
	}
}

// NoColorStyles returns unstyled components for NO_COLOR and dumb
// terminals.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:  plain.Bold(true),
		Success: plain,
		Warning: plain,
		Error:   plain,
		Dim:     plain,
		Project: plain,
		Active:  plain.Bold(true),
		Label:   plain,
		Border:  plain,
		Panel:   plain,
	}
}

// GetStyles returns the style set for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
