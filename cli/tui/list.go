package tui

import (
	"fmt"
	"strings"

	"github.com/sage-hq/sage/core/audit"
)

// renderList renders the entry list view.
func renderList(m *Model) string {
	var b strings.Builder

	// Header.
	title := titleStyle.Render(fmt.Sprintf(" Sage audit — %d entries", len(m.filtered)))
	if len(m.entries) != len(m.filtered) {
		title += subtleStyle.Render(fmt.Sprintf(" (of %d total)", len(m.entries)))
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	// Filter status.
	filterLine := subtleStyle.Render(" Filter: ") + "[" + m.filter.activeVerdict() + "]"
	if m.filter.search != "" {
		filterLine += subtleStyle.Render("  Search: ") + "[" + m.filter.search + "]"
	}
	b.WriteString(filterLine)
	b.WriteString("\n\n")

	if len(m.filtered) == 0 {
		b.WriteString(subtleStyle.Render("  No entries match the current filters.\n"))
	} else {
		visibleLines := max(m.height-8, 1)
		start := max(m.cursor-visibleLines/2, 0)
		end := start + visibleLines
		if end > len(m.filtered) {
			end = len(m.filtered)
			start = max(end-visibleLines, 0)
		}

		for i := start; i < end; i++ {
			b.WriteString(renderEntryLine(m.filtered[i], i == m.cursor))
			b.WriteString("\n")
		}
	}

	// Search input.
	if m.filter.searching {
		b.WriteString("\n Search: " + m.filter.search + "█\n")
	}

	// Help.
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(" ↑↓ navigate  enter detail  / search  v verdict  q quit"))
	b.WriteString("\n")

	return b.String()
}

// renderEntryLine renders a single audit entry in the list.
func renderEntryLine(e audit.Entry, selected bool) string {
	badge := verdictBadge(e.Verdict)
	when := subtleStyle.Render(e.Timestamp.Format("01-02 15:04"))
	tool := toolStyle.Render(fmt.Sprintf("%-10s", e.ToolName))

	line := fmt.Sprintf(" %s  %s  %s  %s", badge, when, tool, e.ToolInputSummary)
	if selected {
		return selectedStyle.Render("▸") + line
	}
	return " " + line
}
