package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/sage-hq/sage/core/decision"
)

var (
	denyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000"))
	askStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700"))
	allowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A3BE8C"))
	faintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// renderDecision pads before styling so column widths survive the ANSI codes.
func renderDecision(d decision.Decision) string {
	padded := fmt.Sprintf("%-5s", string(d))
	switch d {
	case decision.Deny:
		return denyStyle.Render(padded)
	case decision.Ask:
		return askStyle.Render(padded)
	default:
		return allowStyle.Render(padded)
	}
}

func renderSeverity(s decision.Severity) string {
	switch s {
	case decision.SeverityCritical:
		return denyStyle.Render(string(s))
	case decision.SeverityWarning:
		return askStyle.Render(string(s))
	default:
		return faintStyle.Render(string(s))
	}
}
