package threat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sage-hq/sage/core/artifact"
)

// ruleYAML is the on-disk shape of a single threat rule. match_on accepts a
// string or a list of strings.
type ruleYAML struct {
	ID         string    `yaml:"id"`
	Category   string    `yaml:"category"`
	Severity   string    `yaml:"severity"`
	Confidence float64   `yaml:"confidence"`
	Action     string    `yaml:"action"`
	Pattern    string    `yaml:"pattern"`
	MatchOn    yaml.Node `yaml:"match_on"`
	Title      string    `yaml:"title"`
	ExpiresAt  string    `yaml:"expires_at"`
	Revoked    bool      `yaml:"revoked"`
}

// threatFile is the top-level structure of a YAML threat file. It expects a
// single key "threats" containing an array of rule definitions.
type threatFile struct {
	Threats []ruleYAML `yaml:"threats"`
}

// LoadDir reads every .yaml/.yml file in dir, compiles the rules, and returns
// the surviving Set. Files are processed in lexicographic order for
// determinism. Rules listed in disabled, expired rules, revoked rules, and
// rules whose regex fails to compile are skipped with a diagnostic; an
// unreadable directory yields an empty set and an error the caller may treat
// as fail-open.
func LoadDir(dir string, disabled []string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NewSet(), fmt.Errorf("reading threat directory %s: %w", dir, err)
	}

	disabledSet := make(map[string]struct{}, len(disabled))
	for _, id := range disabled {
		disabledSet[id] = struct{}{}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	set := NewSet()
	now := time.Now()
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable threat file", "path", path, "err", err)
			continue
		}
		var tf threatFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			slog.Warn("skipping unparseable threat file", "path", path, "err", err)
			continue
		}
		for _, raw := range tf.Threats {
			if _, off := disabledSet[raw.ID]; off {
				continue
			}
			rule, err := compileRule(raw, now)
			if err != nil {
				slog.Warn("skipping threat rule", "id", raw.ID, "path", path, "err", err)
				continue
			}
			if rule.ID == "" {
				continue // dropped: expired or revoked
			}
			set.Add(rule)
		}
	}
	return set, nil
}

// compileRule validates and compiles one raw rule. Expired or revoked rules
// return a zero Rule with no error; they are dropped silently because aging
// out is normal lifecycle, not a defect.
func compileRule(raw ruleYAML, now time.Time) (Rule, error) {
	if raw.ID == "" {
		return Rule{}, fmt.Errorf("rule ID must not be empty")
	}
	if raw.Revoked || expired(raw.ExpiresAt, now) {
		return Rule{}, nil
	}
	if !validSeverities[Severity(raw.Severity)] {
		return Rule{}, fmt.Errorf("invalid severity %q", raw.Severity)
	}
	if !validActions[Action(raw.Action)] {
		return Rule{}, fmt.Errorf("invalid action %q", raw.Action)
	}

	re, err := regexp.Compile(raw.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compiling pattern: %w", err)
	}

	matchOn, err := parseMatchOn(raw.MatchOn)
	if err != nil {
		return Rule{}, err
	}

	return Rule{
		ID:         raw.ID,
		Category:   raw.Category,
		Severity:   Severity(raw.Severity),
		Confidence: raw.Confidence,
		Action:     Action(raw.Action),
		Title:      raw.Title,
		Pattern:    re,
		MatchOn:    matchOn,
	}, nil
}

// parseMatchOn decodes the match_on node, which may be a scalar or a
// sequence, into artifact types. The legacy "domain" kind is routed to url.
func parseMatchOn(node yaml.Node) ([]artifact.Type, error) {
	var kinds []string
	switch node.Kind {
	case yaml.ScalarNode:
		kinds = []string{node.Value}
	case yaml.SequenceNode:
		if err := node.Decode(&kinds); err != nil {
			return nil, fmt.Errorf("decoding match_on: %w", err)
		}
	case 0:
		return nil, fmt.Errorf("match_on must not be empty")
	default:
		return nil, fmt.Errorf("match_on must be a string or list")
	}

	seen := make(map[artifact.Type]struct{}, len(kinds))
	var out []artifact.Type
	for _, k := range kinds {
		var t artifact.Type
		switch k {
		case "command":
			t = artifact.TypeCommand
		case "url", "domain":
			t = artifact.TypeURL
		case "content":
			t = artifact.TypeContent
		case "file_path":
			t = artifact.TypeFilePath
		default:
			return nil, fmt.Errorf("unknown match_on kind %q", k)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("match_on must not be empty")
	}
	return out, nil
}
