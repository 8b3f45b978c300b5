// Package tui renders keybridge call and listen events in the terminal.
package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorOK      = lipgloss.Color("#98C379")
	colorRunning = lipgloss.Color("#E5C07B")
	colorFailed  = lipgloss.Color("#E06C75")
	colorAccent  = lipgloss.Color("#61AFEF")
	colorFrame   = lipgloss.Color("#5C6370")
	colorMuted   = lipgloss.Color("#7F848E")
)

// Theme holds the monitor's styles.
type Theme struct {
	OK      lipgloss.Style
	Running lipgloss.Style
	Failed  lipgloss.Style

	Panel  lipgloss.Style
	Title  lipgloss.Style
	Header lipgloss.Style
	Muted  lipgloss.Style
	Count  lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		OK:      lipgloss.NewStyle().Foreground(colorOK),
		Running: lipgloss.NewStyle().Foreground(colorRunning),
		Failed:  lipgloss.NewStyle().Foreground(colorFailed),

		Panel:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorFrame),
		Title:  lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Header: lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Muted:  lipgloss.NewStyle().Foreground(colorMuted),
		Count:  lipgloss.NewStyle().Foreground(colorRunning),
	}
}

// CallStatus renders the one-cell marker for a call status.
func (t Theme) CallStatus(status string) string {
	switch status {
	case callCompleted:
		return t.OK.Render("✓")
	case callFailed:
		return t.Failed.Render("✗")
	default:
		return t.Running.Render("…")
	}
}

// TableStyles adapts the bubbles table defaults to the theme.
func (t Theme) TableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorFrame).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.Foreground(colorAccent).Bold(false)
	return s
}
