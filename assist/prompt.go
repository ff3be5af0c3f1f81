package assist

import (
	"fmt"
	"strings"

	"github.com/sage-hq/sage/core/audit"
	"github.com/sage-hq/sage/core/decision"
)

// systemPrompt instructs the LLM on how to explain blocked and held tool
// calls.
func systemPrompt() string {
	return `You are a security expert explaining why Sage, an agent detection and response layer, blocked or held tool calls made by an AI coding assistant.
For each verdict, provide a JSON array with objects containing these fields:
- "threat_id": the matched threat rule id if present (string, optional)
- "tool_name": the tool that was called (string)
- "verdict": the decision, deny or ask (string)
- "explanation": what the tool call was trying to do, in plain language (string)
- "risk": what could have gone wrong if it had run (string)
- "recommendation": what the user should do, e.g. allowlist after review, or leave blocked (string)

Respond ONLY with a valid JSON array. Do not include markdown fences or other text.
Be concise and practical. Never suggest disabling protection wholesale.`
}

// formatEntries converts a batch of audit entries into structured text for
// the LLM.
func formatEntries(entries []audit.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "Tool: %s\n", e.ToolName)
		fmt.Fprintf(&b, "Verdict: %s\n", e.Verdict)
		fmt.Fprintf(&b, "Severity: %s\n", e.Severity)
		fmt.Fprintf(&b, "Source: %s\n", e.Source)
		if e.ToolInputSummary != "" {
			fmt.Fprintf(&b, "Input: %s\n", e.ToolInputSummary)
		}
		for _, a := range e.Artifacts {
			fmt.Fprintf(&b, "Artifact (%s): %s\n", a.Type, a.Value)
		}
		if len(e.Reasons) > 0 {
			fmt.Fprintf(&b, "Reasons: %s\n", strings.Join(e.Reasons, "; "))
		}
	}
	return b.String()
}

// formatContext summarises the audit window so the LLM can weigh individual
// verdicts against the session's overall shape.
func formatContext(entries []audit.Entry) string {
	var b strings.Builder
	b.WriteString("Session context:\n")
	fmt.Fprintf(&b, "Total audited verdicts: %d\n", len(entries))

	counts := map[decision.Decision]int{}
	tools := map[string]int{}
	for _, e := range entries {
		counts[e.Verdict]++
		if e.ToolName != "" {
			tools[e.ToolName]++
		}
	}
	for _, d := range []decision.Decision{decision.Deny, decision.Ask, decision.Allow} {
		if c := counts[d]; c > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", d, c)
		}
	}
	if len(tools) > 0 {
		b.WriteString("Tools involved:\n")
		for tool, count := range tools {
			fmt.Fprintf(&b, "  %s: %d\n", tool, count)
		}
	}
	return b.String()
}

// summaryPrompt asks the LLM for an executive summary of all explained
// verdicts.
func summaryPrompt(explanations []VerdictExplanation) string {
	var b strings.Builder
	b.WriteString("Based on these blocked or held tool calls, provide a 2-3 sentence executive summary ")
	b.WriteString("of what the agent attempted and how risky the session was. Highlight the most serious attempts.\n\n")
	for _, e := range explanations {
		fmt.Fprintf(&b, "- [%s %s] %s: %s\n", e.ToolName, e.Verdict, e.ThreatID, e.Explanation)
	}
	b.WriteString("\nRespond with ONLY the summary text, no JSON.")
	return b.String()
}
