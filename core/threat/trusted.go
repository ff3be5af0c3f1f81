package threat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrustedDomain is a host suffix whose appearance in a matched substring may
// suppress certain heuristic rules.
type TrustedDomain struct {
	Domain string `yaml:"domain"`
	Reason string `yaml:"reason"`
}

// trustedFile is the on-disk shape of a trusted-domain YAML file.
type trustedFile struct {
	Domains []TrustedDomain `yaml:"domains"`
}

// TrustedSet holds loaded trusted domains with suffix matching.
type TrustedSet struct {
	domains []TrustedDomain
}

// NewTrustedSet builds a TrustedSet from the given domains. Domain values are
// lowercased on insertion.
func NewTrustedSet(domains ...TrustedDomain) *TrustedSet {
	ts := &TrustedSet{}
	for _, d := range domains {
		d.Domain = strings.ToLower(strings.TrimSpace(d.Domain))
		if d.Domain == "" {
			continue
		}
		ts.domains = append(ts.domains, d)
	}
	return ts
}

// Domains returns the loaded domains in insertion order.
func (ts *TrustedSet) Domains() []TrustedDomain { return ts.domains }

// Trusts reports whether host matches a registered domain exactly or as a
// dot-suffix. Matching is case-insensitive: a registered "bun.sh" trusts
// both "bun.sh" and "install.bun.sh".
func (ts *TrustedSet) Trusts(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, d := range ts.domains {
		if host == d.Domain || strings.HasSuffix(host, "."+d.Domain) {
			return true
		}
	}
	return false
}

// LoadTrustedDir reads every .yaml/.yml file in dir into a TrustedSet.
// Unreadable or unparseable files are skipped with a diagnostic; an
// unreadable directory yields an empty set and an error.
func LoadTrustedDir(dir string) (*TrustedSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NewTrustedSet(), fmt.Errorf("reading trusted-domain directory %s: %w", dir, err)
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

	var all []TrustedDomain
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable trusted-domain file", "path", path, "err", err)
			continue
		}
		var tf trustedFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			slog.Warn("skipping unparseable trusted-domain file", "path", path, "err", err)
			continue
		}
		all = append(all, tf.Domains...)
	}
	return NewTrustedSet(all...), nil
}
