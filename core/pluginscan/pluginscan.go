// Package pluginscan walks installed host plugins at session start looking
// for the same threats the per-call pipeline checks for: malicious commands
// in scripts, bad URLs, and known-malware file hashes. Results are cached
// per plugin version so repeat sessions are cheap.
package pluginscan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/extract"
	"github.com/sage-hq/sage/core/heuristics"
	"github.com/sage-hq/sage/core/repute"
	"github.com/sage-hq/sage/core/threat"
)

// maxFileBytes caps how much of any plugin file is read.
const maxFileBytes = 512 * 1024

// selfKeyPrefix excludes our own plugin from scanning.
const selfKeyPrefix = "sage"

// scanConcurrency bounds parallel reputation lookups per scan.
const scanConcurrency = 8

// skipDirs are never descended into.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"__pycache__":  {},
}

// scannableExts is the fixed set of extensions worth inspecting.
var scannableExts = map[string]struct{}{
	".sh": {}, ".bash": {}, ".zsh": {}, ".py": {},
	".js": {}, ".ts": {}, ".mjs": {}, ".cjs": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {},
	".md": {}, ".txt": {},
}

// scriptExts get line-level command extraction.
var scriptExts = map[string]struct{}{
	".sh": {}, ".bash": {}, ".zsh": {}, ".py": {},
}

// Plugin identifies one installed plugin, as reported by a host adapter.
type Plugin struct {
	Key         string `json:"key"`
	InstallPath string `json:"install_path"`
	Version     string `json:"version"`
	LastUpdated string `json:"last_updated"`
}

// cacheKey identifies a plugin at a specific version and install time.
func (p Plugin) cacheKey() string {
	return p.Key + ":" + p.Version + ":" + p.LastUpdated
}

// Finding is one threat located inside a plugin.
type Finding struct {
	ThreatID   string `json:"threat_id"`
	Title      string `json:"title"`
	Severity   string `json:"severity"`
	Source     string `json:"source"`
	SourceFile string `json:"source_file,omitempty"`
	Artifact   string `json:"artifact"`
}

// Report is the scan outcome for one plugin.
type Report struct {
	Plugin    Plugin    `json:"plugin"`
	Findings  []Finding `json:"findings"`
	FromCache bool      `json:"from_cache"`
}

// Scanner scans plugin install trees against the rule corpus and reputation
// services.
type Scanner struct {
	Rules     *threat.Set
	Trusted   *threat.TrustedSet
	URLClient *repute.URLClient
	Files     *repute.FileClient
}

// Scan checks every plugin, serving unchanged plugins from cache. Sage's own
// plugin is skipped.
func (s *Scanner) Scan(ctx context.Context, plugins []Plugin, cache *Cache) []Report {
	engine := heuristics.New(commandRules(s.Rules), s.Trusted)

	var reports []Report
	for _, p := range plugins {
		if strings.HasPrefix(p.Key, selfKeyPrefix) {
			continue
		}
		if hit, ok := cache.Get(p.cacheKey()); ok {
			if len(hit.Findings) > 0 {
				reports = append(reports, Report{Plugin: p, Findings: hit.Findings, FromCache: true})
			}
			continue
		}

		findings := s.scanOne(ctx, p, engine)
		cache.Put(p.cacheKey(), findings)
		if len(findings) > 0 {
			reports = append(reports, Report{Plugin: p, Findings: findings})
		}
	}
	return reports
}

// commandRules restricts the corpus to rules that can fire on command
// artifacts; plugin files are not live tool calls, so URL and content rules
// would double-report what the reputation passes already cover.
func commandRules(set *threat.Set) *threat.Set {
	out := threat.NewSet()
	if set == nil {
		return out
	}
	for _, r := range set.Rules() {
		if r.AppliesTo(artifact.TypeCommand) {
			out.Add(r)
		}
	}
	return out
}

// scanOne walks one plugin tree and matches heuristics per file, then runs
// aggregated URL and file-hash checks in parallel.
func (s *Scanner) scanOne(ctx context.Context, p Plugin, engine *heuristics.Engine) []Finding {
	var findings []Finding
	urls := artifact.NewList()
	hashes := map[string]string{} // sha256 -> relative path

	for _, file := range walkPlugin(p.InstallPath) {
		data, err := readCapped(file.path)
		if err != nil {
			continue
		}
		rel := file.rel
		content := string(data)

		for _, u := range extract.ExtractURLs(content) {
			urls.Add(artifact.Artifact{Type: artifact.TypeURL, Value: u, Context: rel})
		}
		sum := sha256.Sum256(data)
		hashes[hex.EncodeToString(sum[:])] = rel

		if _, ok := scriptExts[filepath.Ext(file.path)]; ok {
			for _, m := range engine.Match(scriptArtifacts(content)) {
				findings = append(findings, Finding{
					ThreatID:   m.Rule.ID,
					Title:      m.Rule.Title,
					Severity:   string(m.Rule.Severity),
					Source:     "heuristics",
					SourceFile: rel,
					Artifact:   extract.Truncate(m.ArtifactValue, 200),
				})
			}
		}
	}

	findings = append(findings, s.reputationFindings(ctx, urls, hashes)...)
	return findings
}

// reputationFindings runs the aggregated URL and file-hash checks in
// parallel.
func (s *Scanner) reputationFindings(ctx context.Context, urls *artifact.List, hashes map[string]string) []Finding {
	var mu sync.Mutex
	var findings []Finding

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	if s.URLClient != nil && urls.Len() > 0 {
		urlToFile := map[string]string{}
		for _, a := range urls.Items() {
			urlToFile[a.Value] = a.Context
		}
		g.Go(func() error {
			for _, r := range s.URLClient.Check(gCtx, urls.Values(artifact.TypeURL)) {
				if !r.Malicious {
					continue
				}
				mu.Lock()
				findings = append(findings, Finding{
					ThreatID:   "URL_CHECK",
					Title:      "Malicious URL in plugin file",
					Severity:   "critical",
					Source:     "url_check",
					SourceFile: urlToFile[r.URL],
					Artifact:   extract.Truncate(r.URL, 200),
				})
				mu.Unlock()
			}
			return nil
		})
	}

	if s.Files != nil && len(hashes) > 0 {
		keys := make([]string, 0, len(hashes))
		for h := range hashes {
			keys = append(keys, h)
		}
		sort.Strings(keys)
		g.Go(func() error {
			for hash, sev := range s.Files.Check(gCtx, keys) {
				if sev != repute.SeverityMalware {
					continue
				}
				mu.Lock()
				findings = append(findings, Finding{
					ThreatID:   "FILE_CHECK",
					Title:      "Known-malware file in plugin",
					Severity:   "critical",
					Source:     "file_check",
					SourceFile: hashes[hash],
					Artifact:   hash,
				})
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return findings
}

// scriptArtifacts splits a script into per-line command artifacts, dropping
// blanks, comments, and harmless echo lines.
func scriptArtifacts(content string) []artifact.Artifact {
	var out []artifact.Artifact
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || harmlessEcho(trimmed) {
			continue
		}
		out = append(out, artifact.Artifact{Type: artifact.TypeCommand, Value: trimmed})
	}
	return out
}

// harmlessEcho reports whether the line is an echo/printf whose pipes, if
// any, all sit inside quoted strings. Such lines print pipelines rather than
// running them.
func harmlessEcho(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd := fields[0]
	if cmd != "echo" && cmd != "printf" {
		return false
	}

	var quote byte
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '|':
			return false
		}
	}
	return true
}

// walkedFile pairs an absolute path with its path relative to the install
// root.
type walkedFile struct {
	path string
	rel  string
}

// walkPlugin walks root breadth-first, honoring the skip-dir set, the
// extension filter, and the size cap, and refusing symlinks that escape the
// install path.
func walkPlugin(root string) []walkedFile {
	info, err := os.Stat(root)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		if scannable(root, info.Size()) {
			return []walkedFile{{path: root, rel: filepath.Base(root)}}
		}
		return nil
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil
	}

	var out []walkedFile
	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			full := filepath.Join(dir, name)
			if entry.IsDir() {
				if _, skip := skipDirs[name]; !skip {
					queue = append(queue, full)
				}
				continue
			}
			if entry.Type()&fs.ModeSymlink != 0 && escapesRoot(full, resolvedRoot) {
				continue
			}
			fi, err := entry.Info()
			if err != nil || !scannable(full, fi.Size()) {
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				rel = name
			}
			out = append(out, walkedFile{path: full, rel: rel})
		}
	}
	return out
}

// escapesRoot reports whether a symlink resolves outside the plugin root.
func escapesRoot(link, resolvedRoot string) bool {
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(resolvedRoot, target)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// scannable applies the extension and size filters.
func scannable(path string, size int64) bool {
	if size > maxFileBytes {
		return false
	}
	_, ok := scannableExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// readCapped reads at most maxFileBytes from path.
func readCapped(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plugin file: %w", err)
	}
	if len(data) > maxFileBytes {
		data = data[:maxFileBytes]
	}
	return data, nil
}
