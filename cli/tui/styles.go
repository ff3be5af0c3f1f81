package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sage-hq/sage/core/decision"
)

var (
	// Verdict colors.
	colorDeny  = lipgloss.Color("#FF0000")
	colorAsk   = lipgloss.Color("#FFD700")
	colorAllow = lipgloss.Color("#A3BE8C")

	// UI colors.
	colorTitle    = lipgloss.Color("#FFFFFF")
	colorSubtle   = lipgloss.Color("#666666")
	colorSelected = lipgloss.Color("#7D56F4")

	// Styles.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTitle)

	subtleStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSelected)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorSubtle)

	threatIDStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#AAAAAA"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#88C0D0"))

	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#A3BE8C"))
)

// verdictStyle returns a style colored for the decision.
func verdictStyle(d decision.Decision) lipgloss.Style {
	var color lipgloss.Color
	switch d {
	case decision.Deny:
		color = colorDeny
	case decision.Ask:
		color = colorAsk
	default:
		color = colorAllow
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// verdictBadge returns a short fixed-width verdict string for list display.
func verdictBadge(d decision.Decision) string {
	style := verdictStyle(d)
	switch d {
	case decision.Deny:
		return style.Render(" DENY")
	case decision.Ask:
		return style.Render("  ASK")
	default:
		return style.Render("ALLOW")
	}
}
