// Package decision fuses heuristic matches, URL reputation, and package
// check results into a single verdict under a sensitivity preset. The
// decision table is small and explicit; multiple signals combine by taking
// the strongest decision, with a stable first-signal tie-break.
package decision

import (
	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/heuristics"
	"github.com/sage-hq/sage/core/pkgscan"
	"github.com/sage-hq/sage/core/repute"
	"github.com/sage-hq/sage/core/threat"
)

// Decision is the pipeline's tri-state output.
type Decision string

// Decision constants ordered from weakest to strongest.
const (
	Allow Decision = "allow"
	Ask   Decision = "ask"
	Deny  Decision = "deny"
)

// rank orders decisions for strongest-wins fusion.
var rank = map[Decision]int{Allow: 0, Ask: 1, Deny: 2}

// Stronger reports whether a is a stronger decision than b.
func Stronger(a, b Decision) bool { return rank[a] > rank[b] }

// Severity classifies a verdict for display and audit.
type Severity string

// Verdict severity constants.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Sensitivity selects how warning-level signals resolve.
type Sensitivity string

// Sensitivity presets.
const (
	Paranoid Sensitivity = "paranoid"
	Balanced Sensitivity = "balanced"
	Relaxed  Sensitivity = "relaxed"
)

// ValidSensitivity reports whether s is a recognised preset.
func ValidSensitivity(s Sensitivity) bool {
	return s == Paranoid || s == Balanced || s == Relaxed
}

// Verdict is the pipeline's output for one tool call. An allow verdict
// carries no artifacts and no reasons: allows are silent.
type Verdict struct {
	Decision        Decision            `json:"decision"`
	Category        string              `json:"category"`
	Confidence      float64             `json:"confidence"`
	Severity        Severity            `json:"severity"`
	Source          string              `json:"source"`
	Artifacts       []artifact.Artifact `json:"artifacts,omitempty"`
	MatchedThreatID string              `json:"matched_threat_id,omitempty"`
	Reasons         []string            `json:"reasons,omitempty"`
}

// NewAllow returns a silent allow verdict from the given source.
func NewAllow(source string) Verdict {
	return Verdict{Decision: Allow, Severity: SeverityInfo, Source: source}
}

// Inputs carries the gathered signals for one evaluation, in signal order:
// heuristic matches first, then URL results, then package results. The
// tie-break between equally strong signals follows this order.
type Inputs struct {
	Heuristics []heuristics.Match
	URLs       []repute.URLResult
	Packages   []pkgscan.Result
}

// signal is one candidate verdict produced from a single input.
type signal struct {
	verdict Verdict
}

// Decide applies the decision table and returns the fused verdict. With no
// signals the result is a silent allow.
func Decide(in Inputs, sens Sensitivity) Verdict {
	if !ValidSensitivity(sens) {
		sens = Balanced
	}

	var signals []signal
	for _, m := range in.Heuristics {
		signals = append(signals, heuristicSignal(m, sens))
	}
	for _, u := range in.URLs {
		if s, ok := urlSignal(u, sens); ok {
			signals = append(signals, s)
		}
	}
	for _, p := range in.Packages {
		if s, ok := packageSignal(p, sens); ok {
			signals = append(signals, s)
		}
	}

	if len(signals) == 0 {
		return NewAllow("clean")
	}

	// Strongest decision wins; the first signal at that strength provides
	// the verdict detail. Confidence is the max over signals at the winning
	// strength.
	winner := signals[0]
	for _, s := range signals[1:] {
		if Stronger(s.verdict.Decision, winner.verdict.Decision) {
			winner = s
		}
	}
	v := winner.verdict
	for _, s := range signals {
		if s.verdict.Decision == v.Decision && s.verdict.Confidence > v.Confidence {
			v.Confidence = s.verdict.Confidence
		}
	}

	if v.Decision == Allow {
		// Allows are silent regardless of which signal produced them.
		return NewAllow(v.Source)
	}
	return v
}

// heuristicSignal maps one heuristic match through the sensitivity table.
func heuristicSignal(m heuristics.Match, sens Sensitivity) signal {
	var d Decision
	switch m.Rule.Action {
	case threat.ActionBlock:
		d = Deny
	case threat.ActionRequireApproval:
		d = Ask
	case threat.ActionLog:
		if sens == Paranoid {
			d = Ask
		} else {
			d = Allow
		}
	default:
		d = Allow
	}

	return signal{verdict: Verdict{
		Decision:        d,
		Category:        m.Rule.Category,
		Confidence:      m.Rule.Confidence,
		Severity:        ruleSeverity(m.Rule.Severity),
		Source:          "heuristics",
		Artifacts:       []artifact.Artifact{{Type: artifactTypeForMatch(m), Value: m.ArtifactValue}},
		MatchedThreatID: m.Rule.ID,
		Reasons:         []string{m.Rule.Title},
	}}
}

// artifactTypeForMatch recovers the artifact type a match fired on. A rule
// may apply to several types; the match value is attributed to the first
// declared type, which is exact for single-type rules and a display-only
// approximation otherwise.
func artifactTypeForMatch(m heuristics.Match) artifact.Type {
	if len(m.Rule.MatchOn) > 0 {
		return m.Rule.MatchOn[0]
	}
	return artifact.TypeCommand
}

// ruleSeverity folds the four rule severities into the three verdict
// severities.
func ruleSeverity(s threat.Severity) Severity {
	switch s {
	case threat.SeverityCritical, threat.SeverityHigh:
		return SeverityCritical
	case threat.SeverityMedium:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// urlSignal maps one URL reputation result. Malicious is a hard deny at any
// sensitivity; flags-only is a warning resolved by preset; anything else
// produces no signal.
func urlSignal(u repute.URLResult, sens Sensitivity) (signal, bool) {
	switch {
	case u.Malicious:
		reasons := make([]string, 0, len(u.Findings))
		for _, f := range u.Findings {
			reasons = append(reasons, f.TypeName)
		}
		if len(reasons) == 0 {
			reasons = []string{"malicious URL"}
		}
		return signal{verdict: Verdict{
			Decision:   Deny,
			Category:   "malicious_url",
			Confidence: 0.9,
			Severity:   SeverityCritical,
			Source:     "url_check",
			Artifacts:  []artifact.Artifact{{Type: artifact.TypeURL, Value: u.URL}},
			Reasons:    reasons,
		}}, true
	case len(u.Flags) > 0:
		d := Ask
		if sens == Relaxed {
			d = Allow
		}
		return signal{verdict: Verdict{
			Decision:   d,
			Category:   "suspicious_url",
			Confidence: 0.5,
			Severity:   SeverityWarning,
			Source:     "url_check",
			Artifacts:  []artifact.Artifact{{Type: artifact.TypeURL, Value: u.URL}},
			Reasons:    u.Flags,
		}}, true
	default:
		return signal{}, false
	}
}

// packageSignal maps one package check result through the sensitivity table.
func packageSignal(p pkgscan.Result, sens Sensitivity) (signal, bool) {
	base := Verdict{
		Source:     "package_check",
		Confidence: p.Confidence,
		Artifacts: []artifact.Artifact{{
			Type:  artifact.TypeCommand,
			Value: p.Package.Key(),
		}},
		Reasons: []string{p.Details},
	}

	switch p.Verdict {
	case pkgscan.VerdictNotFound:
		base.Decision, base.Severity, base.Category = Deny, SeverityCritical, "package_not_found"
	case pkgscan.VerdictMalicious:
		base.Decision, base.Severity, base.Category = Deny, SeverityCritical, "malicious_package"
	case pkgscan.VerdictSuspiciousAge:
		base.Severity, base.Category = SeverityWarning, "suspicious_package_age"
		if sens == Relaxed {
			base.Decision = Allow
		} else {
			base.Decision = Ask
		}
	default:
		return signal{}, false
	}
	return signal{verdict: base}, true
}
