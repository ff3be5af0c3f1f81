package tui

import (
	"fmt"
	"strings"
)

// renderDetail renders the detail view for a single audit entry.
func renderDetail(m *Model) string {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return "No entry selected."
	}
	e := m.filtered[m.cursor]

	var b strings.Builder

	// Header.
	badge := verdictStyle(e.Verdict).Render(strings.ToUpper(string(e.Verdict)))
	b.WriteString(fmt.Sprintf(" %s · %s · %s\n",
		toolStyle.Render(e.ToolName),
		e.Timestamp.Format("2006-01-02 15:04:05"),
		badge))
	b.WriteString(headerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	if e.ToolInputSummary != "" {
		b.WriteString(" " + sectionHeaderStyle.Render("Input") + "\n")
		b.WriteString(wrapText(e.ToolInputSummary, m.width-4, "   "))
		b.WriteString("\n")
	}

	if len(e.Artifacts) > 0 {
		b.WriteString(" " + sectionHeaderStyle.Render("Artifacts") + "\n")
		for _, a := range e.Artifacts {
			b.WriteString(fmt.Sprintf("   %s  %s\n", threatIDStyle.Render(string(a.Type)), a.Value))
		}
		b.WriteString("\n")
	}

	if len(e.Reasons) > 0 {
		b.WriteString(" " + sectionHeaderStyle.Render("Reasons") + "\n")
		for _, r := range e.Reasons {
			b.WriteString(wrapText(r, m.width-4, "   "))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf(" %s %s · %s %s",
		subtleStyle.Render("source:"), e.Source,
		subtleStyle.Render("severity:"), string(e.Severity)))
	if e.SessionID != "" {
		b.WriteString(fmt.Sprintf(" · %s %s", subtleStyle.Render("session:"), e.SessionID))
	}
	if e.UserOverride {
		b.WriteString(" · " + verdictStyle(e.Verdict).Render("user override"))
	}
	b.WriteString("\n\n")

	b.WriteString(helpStyle.Render(" esc back  n/p next/prev  q quit"))
	b.WriteString("\n")

	return b.String()
}

// wrapText wraps text at the given width with the given indent prefix.
func wrapText(text string, width int, indent string) string {
	if width <= 0 {
		width = 78
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(indent)
	lineLen := len(indent)

	for i, word := range words {
		if i > 0 && lineLen+1+len(word) > width {
			b.WriteString("\n" + indent)
			lineLen = len(indent)
		} else if i > 0 {
			b.WriteString(" ")
			lineLen++
		}
		b.WriteString(word)
		lineLen += len(word)
	}
	b.WriteString("\n")
	return b.String()
}
