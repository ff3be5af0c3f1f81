package tui

import (
	"strings"

	"github.com/sage-hq/sage/core/audit"
	"github.com/sage-hq/sage/core/decision"
)

// verdictOrder defines the cycle order for the verdict filter toggle.
var verdictOrder = []decision.Decision{
	decision.Deny,
	decision.Ask,
	decision.Allow,
}

// filterState tracks the active filter configuration.
type filterState struct {
	verdictIdx int    // -1 = all
	search     string // free-text search query
	searching  bool   // true when search input is active
}

func newFilterState() filterState {
	return filterState{verdictIdx: -1}
}

// cycleVerdict advances the verdict filter to the next decision.
func (f *filterState) cycleVerdict() {
	f.verdictIdx++
	if f.verdictIdx >= len(verdictOrder) {
		f.verdictIdx = -1
	}
}

// activeVerdict returns the current verdict filter, or "all".
func (f *filterState) activeVerdict() string {
	if f.verdictIdx < 0 {
		return "all"
	}
	return string(verdictOrder[f.verdictIdx])
}

// matchesEntry returns true if the entry passes all active filters.
func (f *filterState) matchesEntry(e audit.Entry) bool {
	if f.verdictIdx >= 0 && e.Verdict != verdictOrder[f.verdictIdx] {
		return false
	}

	if f.search != "" {
		q := strings.ToLower(f.search)
		hay := strings.ToLower(e.ToolName + " " + e.ToolInputSummary + " " +
			e.Source + " " + strings.Join(e.Reasons, " "))
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

// filterEntries returns entries that pass the active filters, newest first.
func (f *filterState) filterEntries(all []audit.Entry) []audit.Entry {
	var result []audit.Entry
	for i := len(all) - 1; i >= 0; i-- {
		if f.matchesEntry(all[i]) {
			result = append(result, all[i])
		}
	}
	return result
}
