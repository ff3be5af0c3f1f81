// Package threat implements the YAML-based threat rule corpus for the Sage
// evaluation pipeline. Rules are loaded from a directory of YAML files,
// compiled, and matched against extracted artifacts by the heuristics engine.
// Expired and revoked rules are dropped at load time; a rule with an invalid
// regex is skipped so one bad pattern never disables the corpus.
package threat

import (
	"regexp"
	"time"

	"github.com/sage-hq/sage/core/artifact"
)

// Severity classifies how dangerous a matched rule is.
type Severity string

// Severity level constants ordered from most to least severe.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// validSeverities is the set of recognised severity values.
var validSeverities = map[Severity]bool{
	SeverityCritical: true,
	SeverityHigh:     true,
	SeverityMedium:   true,
	SeverityLow:      true,
}

// Action tells the decision engine how to treat a match.
type Action string

// Rule action constants.
const (
	ActionBlock           Action = "block"
	ActionRequireApproval Action = "require_approval"
	ActionLog             Action = "log"
)

// validActions is the set of recognised action values.
var validActions = map[Action]bool{
	ActionBlock:           true,
	ActionRequireApproval: true,
	ActionLog:             true,
}

// Rule is a single compiled threat rule. Rules are immutable after load.
type Rule struct {
	ID         string
	Category   string
	Severity   Severity
	Confidence float64
	Action     Action
	Title      string
	Pattern    *regexp.Regexp
	MatchOn    []artifact.Type
}

// AppliesTo reports whether the rule matches artifacts of the given type.
func (r Rule) AppliesTo(t artifact.Type) bool {
	for _, m := range r.MatchOn {
		if m == t {
			return true
		}
	}
	return false
}

// Set is an ordered collection of compiled rules with lookup by ID.
type Set struct {
	rules []Rule
	byID  map[string]int
}

// NewSet returns an initialised, empty Set.
func NewSet() *Set {
	return &Set{byID: make(map[string]int)}
}

// Add appends a rule to the set and updates the ID index.
func (s *Set) Add(r Rule) {
	s.byID[r.ID] = len(s.rules)
	s.rules = append(s.rules, r)
}

// Rules returns all rules in insertion order.
func (s *Set) Rules() []Rule { return s.rules }

// ByID looks up a rule by its identifier.
func (s *Set) ByID(id string) (Rule, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return s.rules[idx], true
}

// Len returns the number of rules in the set.
func (s *Set) Len() int { return len(s.rules) }

// expired reports whether the raw expiry timestamp is at or before now.
// An empty or unparseable timestamp never expires.
func expired(expiresAt string, now time.Time) bool {
	if expiresAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return false
	}
	return !t.After(now)
}
