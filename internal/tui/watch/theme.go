// Package watch implements the live terminal monitor for a jobflow run
// exposing a status endpoint.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles of the watch screen.
type Theme struct {
	Busy   lipgloss.Style
	Done   lipgloss.Style
	Failed lipgloss.Style

	Panel     lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#5FAFD7")
	green := lipgloss.Color("#87D787")

	return Theme{
		Busy:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")),
		Done:   lipgloss.NewStyle().Foreground(green),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AFFF")),

		PulseOn:  lipgloss.NewStyle().Foreground(green),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#3A3A3A")),
	}
}
