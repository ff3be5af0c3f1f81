// Package heuristics matches extracted artifacts against the compiled threat
// corpus. The engine is built once per evaluation from an immutable rule set
// and runs as a pure function over an artifact slice; it holds no global
// state. Trusted-domain suppression is scoped to the matched substring, not
// the whole artifact, so a trusted URL placed elsewhere in a command can
// never hide an untrusted pipe-to-shell.
package heuristics

import (
	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/extract"
	"github.com/sage-hq/sage/core/threat"
)

// Match records a single rule hit against one artifact. MatchValue is the
// regex's whole-match text ($0); the distinction from ArtifactValue is
// load-bearing for suppression scoping.
type Match struct {
	Rule          threat.Rule
	ArtifactValue string
	MatchValue    string
}

// suppressibleRules is the fixed set of rule ids whose matches may be
// suppressed when every URL inside the matched substring resolves to a
// trusted domain. Only download-and-execute and supply-chain-install
// patterns qualify; everything else always stands.
var suppressibleRules = map[string]struct{}{
	"CLT-CMD-001": {}, // curl | sh
	"CLT-CMD-002": {}, // wget | sh
	"CLT-PKG-003": {}, // remote install script
	"CLT-PKG-004": {}, // package postinstall fetch
}

// Engine matches artifacts against a rule set, applying trusted-domain
// suppression.
type Engine struct {
	byType  map[artifact.Type][]threat.Rule
	trusted *threat.TrustedSet
}

// New builds an Engine from the given rules and trusted domains. Rules are
// indexed by artifact type at build time; trusted may be nil, which disables
// suppression.
func New(rules *threat.Set, trusted *threat.TrustedSet) *Engine {
	e := &Engine{
		byType:  make(map[artifact.Type][]threat.Rule),
		trusted: trusted,
	}
	if rules != nil {
		for _, r := range rules.Rules() {
			for _, t := range r.MatchOn {
				e.byType[t] = append(e.byType[t], r)
			}
		}
	}
	return e
}

// Match runs every applicable rule against every artifact, in (artifact,
// rule) order, and returns all surviving matches. Multiple rules may match a
// single artifact.
func (e *Engine) Match(artifacts []artifact.Artifact) []Match {
	var out []Match
	for _, a := range artifacts {
		for _, r := range e.byType[a.Type] {
			loc := r.Pattern.FindString(a.Value)
			if loc == "" && !r.Pattern.MatchString(a.Value) {
				continue
			}
			m := Match{Rule: r, ArtifactValue: a.Value, MatchValue: loc}
			if e.suppressed(m) {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

// suppressed reports whether a match is silenced by trusted-domain
// suppression. Only suppressible rules qualify, and only when the matched
// substring contains at least one URL and every one of those URLs resolves
// to a trusted domain. A matched substring with no URL, or with any
// untrusted URL, always stands.
func (e *Engine) suppressed(m Match) bool {
	if e.trusted == nil {
		return false
	}
	if _, ok := suppressibleRules[m.Rule.ID]; !ok {
		return false
	}
	urls := extract.ExtractURLs(m.MatchValue)
	if len(urls) == 0 {
		return false
	}
	for _, u := range urls {
		host := artifact.HostOf(u)
		if host == "" || !e.trusted.Trusts(host) {
			return false
		}
	}
	return true
}
