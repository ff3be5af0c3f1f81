package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sage-hq/sage/core/audit"
)

const defaultBatchSize = 10

// VerdictExplanation holds the LLM-generated explanation for one audited
// verdict.
type VerdictExplanation struct {
	ThreatID       string `json:"threat_id,omitempty"`
	ToolName       string `json:"tool_name"`
	Verdict        string `json:"verdict"`
	Explanation    string `json:"explanation"`
	Risk           string `json:"risk"`
	Recommendation string `json:"recommendation"`
}

// UsageStats tracks LLM token consumption across all provider calls.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	RequestCount     int `json:"request_count"`
}

// Report is the top-level output of the explain pipeline.
type Report struct {
	SchemaVersion string               `json:"schema_version"`
	Explanations  []VerdictExplanation `json:"explanations"`
	Summary       string               `json:"summary"`
	Usage         UsageStats           `json:"usage"`
}

// JSON returns the report as pretty-printed JSON bytes.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteFile writes the report to the given file path.
func (r *Report) WriteFile(path string) error {
	data, err := r.JSON()
	if err != nil {
		return fmt.Errorf("marshalling explanation report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Explainer batches audited verdicts, sends them to a Provider, and
// assembles a Report.
type Explainer struct {
	provider  Provider
	batchSize int
}

// Option configures an Explainer.
type Option func(*Explainer)

// WithBatchSize sets how many verdicts are sent per LLM call (default 10).
func WithBatchSize(n int) Option {
	return func(e *Explainer) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// NewExplainer creates an Explainer with the given provider and options.
func NewExplainer(provider Provider, opts ...Option) *Explainer {
	e := &Explainer{provider: provider, batchSize: defaultBatchSize}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Explain analyses the given audit entries and returns a Report with
// per-verdict explanations and an executive summary.
//
// If the provider fails on a batch, the explainer degrades gracefully: it
// returns the explanations gathered so far and records the error in the
// summary field.
func (e *Explainer) Explain(ctx context.Context, entries []audit.Entry) (*Report, error) {
	report := &Report{SchemaVersion: "1.0.0"}
	if len(entries) == 0 {
		report.Summary = "No verdicts to explain."
		return report, nil
	}

	sysMsgs := []Message{
		{Role: RoleSystem, Content: systemPrompt()},
		{Role: RoleUser, Content: formatContext(entries)},
	}

	var providerErr error
	for i := 0; i < len(entries); i += e.batchSize {
		end := min(i+e.batchSize, len(entries))

		messages := make([]Message, len(sysMsgs)+1)
		copy(messages, sysMsgs)
		messages[len(sysMsgs)] = Message{
			Role:    RoleUser,
			Content: "Explain these verdicts:\n\n" + formatEntries(entries[i:end]),
		}

		resp, err := e.provider.Complete(ctx, messages)
		if err != nil {
			providerErr = err
			break
		}

		report.Usage.PromptTokens += resp.PromptTokens
		report.Usage.CompletionTokens += resp.CompletionTokens
		report.Usage.TotalTokens += resp.PromptTokens + resp.CompletionTokens
		report.Usage.RequestCount++

		explanations, err := parseExplanations(resp.Content)
		if err != nil {
			providerErr = fmt.Errorf("parsing LLM response: %w", err)
			break
		}
		report.Explanations = append(report.Explanations, explanations...)
	}

	if providerErr != nil {
		report.Summary = fmt.Sprintf("Partial results: %d of %d verdicts explained. Error: %v",
			len(report.Explanations), len(entries), providerErr)
		return report, nil
	}

	if len(report.Explanations) > 0 {
		summary, err := e.generateSummary(ctx, report.Explanations)
		if err != nil {
			report.Summary = fmt.Sprintf("Generated explanations for %d verdicts. Summary generation failed: %v",
				len(report.Explanations), err)
		} else {
			report.Summary = summary
		}
	}
	return report, nil
}

// generateSummary asks the provider for an executive summary of all
// explained verdicts.
func (e *Explainer) generateSummary(ctx context.Context, explanations []VerdictExplanation) (string, error) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a security expert summarising agent activity."},
		{Role: RoleUser, Content: summaryPrompt(explanations)},
	}
	resp, err := e.provider.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// parseExplanations extracts VerdictExplanation values from the LLM's JSON
// response.
func parseExplanations(raw string) ([]VerdictExplanation, error) {
	var explanations []VerdictExplanation
	if err := json.Unmarshal([]byte(raw), &explanations); err != nil {
		return nil, fmt.Errorf("invalid JSON from LLM: %w", err)
	}
	return explanations, nil
}
