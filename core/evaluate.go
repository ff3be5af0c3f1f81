package core

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sage-hq/sage/core/allowlist"
	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/audit"
	"github.com/sage-hq/sage/core/decision"
	"github.com/sage-hq/sage/core/extract"
	"github.com/sage-hq/sage/core/heuristics"
	"github.com/sage-hq/sage/core/pkgscan"
	"github.com/sage-hq/sage/core/repute"
	"github.com/sage-hq/sage/core/statefile"
	"github.com/sage-hq/sage/core/threat"
	"github.com/sage-hq/sage/core/vcache"
)

// Request is one tool call to evaluate.
type Request struct {
	SessionID string
	ToolName  string
	ToolInput map[string]any
}

// Evaluator runs the full pipeline for one tool call. Zero-value fields are
// built from config; tests inject their own clients.
type Evaluator struct {
	Home string

	URLClient *repute.URLClient
	FileCheck *repute.FileClient
	Registry  *repute.RegistryClient
}

// NewEvaluator returns an evaluator rooted at the given state directory.
func NewEvaluator(home string) *Evaluator {
	return &Evaluator{Home: home}
}

// Evaluate extracts artifacts from the request, consults allowlist, cache,
// heuristics, and reputation, and returns a fused verdict. Every failure
// along the way degrades rather than aborts: the caller always gets a
// verdict.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) decision.Verdict {
	cfg := LoadConfig(e.Home)
	statefile.PruneTemp(e.Home)

	arts := extract.FromToolCall(req.ToolName, req.ToolInput)
	if arts.Len() == 0 {
		// Unmapped tools are allowed through, except under paranoid where an
		// extraction gap is itself suspicious.
		if cfg.Sensitivity == decision.Paranoid {
			return decision.Verdict{
				Decision: decision.Ask,
				Category: "no_artifacts",
				Severity: decision.SeverityInfo,
				Source:   "no_artifacts",
				Reasons:  []string{"no artifacts could be extracted from this tool call"},
			}
		}
		return decision.NewAllow("no_artifacts")
	}

	store := allowlist.Load(cfg.Allowlist.Path)
	if store.IsAllowlisted(arts.Items()) {
		v := decision.NewAllow("allowlisted")
		e.appendAudit(cfg, req, arts, v, true)
		return v
	}

	cache := vcache.Open(cfg.Cache.Path, vcache.Options{
		Enabled:      cfg.Cache.Enabled,
		TTLMalicious: time.Duration(cfg.Cache.TTLMaliciousSeconds) * time.Second,
		TTLClean:     time.Duration(cfg.Cache.TTLCleanSeconds) * time.Second,
	})

	// Partition URLs into cached and uncached.
	var uncachedURLs []string
	var cachedHits []vcache.Entry
	for _, a := range arts.Items() {
		if a.Type != artifact.TypeURL {
			continue
		}
		if hit := cache.GetURL(a.Value); hit != nil {
			cachedHits = append(cachedHits, *hit)
		} else {
			uncachedURLs = append(uncachedURLs, a.Value)
		}
	}

	var in decision.Inputs

	if cfg.HeuristicsEnabled {
		in.Heuristics = e.runHeuristics(arts, cfg)
	}

	urlClient := e.urlClient(cfg)
	if cfg.URLCheck.Enabled && len(uncachedURLs) > 0 && urlClient != nil {
		in.URLs = urlClient.Check(ctx, uncachedURLs)
	}

	var pkgResults []pkgscan.Result
	var pkgCached []vcache.Entry
	if cfg.PackageCheck.Enabled {
		pkgResults, pkgCached = e.checkPackages(ctx, req, arts, cfg, cache)
		in.Packages = pkgResults
	}

	v := decision.Decide(in, cfg.Sensitivity)

	// A fresh allow does not override remembered bad news: promote the first
	// cached non-allow verdict.
	if v.Decision == decision.Allow {
		for _, hit := range append(cachedHits, pkgCached...) {
			if hit.Verdict != decision.Allow {
				v = decision.Verdict{
					Decision: hit.Verdict,
					Severity: hit.Severity,
					Source:   hit.Source,
					Reasons:  hit.Reasons,
				}
				break
			}
		}
	}

	e.persistResults(cache, in.URLs, pkgResults)
	cache.Save()

	e.appendAudit(cfg, req, arts, v, false)
	return v
}

// runHeuristics loads the rule corpus and matches it against the artifacts.
// An unreadable threat directory disables the layer rather than failing the
// call.
func (e *Evaluator) runHeuristics(arts *artifact.List, cfg Config) []heuristics.Match {
	rules, err := threat.LoadDir(ThreatDir(e.Home), cfg.DisabledThreats)
	if err != nil {
		slog.Warn("threat rules unavailable, heuristics disabled", "err", err)
		return nil
	}
	trusted, err := threat.LoadTrustedDir(TrustedDir(e.Home))
	if err != nil {
		trusted = threat.NewTrustedSet()
	}
	return heuristics.New(rules, trusted).Match(arts.Items())
}

// checkPackages extracts package references from install commands and
// manifests, serves cached verdicts, and checks the rest against the
// registries.
func (e *Evaluator) checkPackages(ctx context.Context, req Request, arts *artifact.List, cfg Config, cache *vcache.Cache) ([]pkgscan.Result, []vcache.Entry) {
	var pkgs []pkgscan.Package
	switch req.ToolName {
	case extract.ToolBash:
		for _, a := range arts.Items() {
			if a.Type == artifact.TypeCommand {
				pkgs = append(pkgs, pkgscan.FromCommand(a.Value)...)
			}
		}
	case extract.ToolWrite, extract.ToolEdit:
		path, _ := req.ToolInput["file_path"].(string)
		content, _ := req.ToolInput["content"].(string)
		if content == "" {
			content, _ = req.ToolInput["new_string"].(string)
		}
		if path != "" && content != "" {
			pkgs = append(pkgs, pkgscan.FromManifest(path, content)...)
		}
	default:
		return nil, nil
	}
	if len(pkgs) == 0 {
		return nil, nil
	}

	var uncached []pkgscan.Package
	var cachedBad []vcache.Entry
	for _, p := range pkgs {
		hit := cache.GetPackage(p.Key())
		if hit == nil {
			uncached = append(uncached, p)
			continue
		}
		if hit.Verdict != decision.Allow {
			cachedBad = append(cachedBad, *hit)
		}
	}
	if len(uncached) == 0 {
		return nil, cachedBad
	}

	checker := pkgscan.NewChecker(e.registryClient(cfg), e.fileClient(cfg), cfg.FileCheck.Enabled)
	return checker.Check(ctx, uncached), cachedBad
}

// persistResults writes fresh URL and package verdicts back to the cache.
// URL entries always come from the URL-check result for that URL, never from
// heuristic matches that happened to involve it.
func (e *Evaluator) persistResults(cache *vcache.Cache, urls []repute.URLResult, pkgs []pkgscan.Result) {
	for _, u := range urls {
		switch {
		case u.Malicious:
			reasons := make([]string, 0, len(u.Findings))
			for _, f := range u.Findings {
				reasons = append(reasons, f.TypeName)
			}
			cache.PutURL(u.URL, decision.Verdict{
				Decision: decision.Deny,
				Severity: decision.SeverityCritical,
				Source:   "url_check",
				Reasons:  reasons,
			}, true)
		case len(u.Flags) > 0:
			cache.PutURL(u.URL, decision.Verdict{
				Decision: decision.Ask,
				Severity: decision.SeverityWarning,
				Source:   "url_check",
				Reasons:  u.Flags,
			}, false)
		default:
			cache.PutURL(u.URL, decision.NewAllow("url_check"), false)
		}
	}

	for _, p := range pkgs {
		switch p.Verdict {
		case pkgscan.VerdictNotFound, pkgscan.VerdictMalicious:
			cache.PutPackage(p.Package.Key(), decision.Verdict{
				Decision: decision.Deny,
				Severity: decision.SeverityCritical,
				Source:   "package_check",
				Reasons:  []string{p.Details},
			}, p.AgeDays)
		case pkgscan.VerdictSuspiciousAge:
			cache.PutPackage(p.Package.Key(), decision.Verdict{
				Decision: decision.Ask,
				Severity: decision.SeverityWarning,
				Source:   "package_check",
				Reasons:  []string{p.Details},
			}, p.AgeDays)
		case pkgscan.VerdictClean:
			cache.PutPackage(p.Package.Key(), decision.NewAllow("package_check"), p.AgeDays)
		}
		// Unknown verdicts are transient failures and are not cached.
	}
}

// appendAudit records the verdict, fail-open.
func (e *Evaluator) appendAudit(cfg Config, req Request, arts *artifact.List, v decision.Verdict, override bool) {
	if !cfg.Logging.Enabled {
		return
	}
	l := audit.NewLogger(cfg.Logging.Path)
	l.MaxBytes = cfg.Logging.MaxBytes
	l.MaxFiles = cfg.Logging.MaxFiles
	l.LogClean = cfg.Logging.LogClean

	entry := audit.Entry{
		Type:             audit.TypeVerdict,
		SessionID:        req.SessionID,
		ToolName:         req.ToolName,
		ToolInputSummary: extract.Summary(req.ToolName, req.ToolInput),
		Artifacts:        v.Artifacts,
		Verdict:          v.Decision,
		Severity:         v.Severity,
		Reasons:          v.Reasons,
		Source:           v.Source,
		UserOverride:     override,
	}
	if err := l.Append(entry); err != nil {
		slog.Warn("audit append failed", "path", cfg.Logging.Path, "err", err)
	}
}

func (e *Evaluator) urlClient(cfg Config) *repute.URLClient {
	if e.URLClient != nil {
		return e.URLClient
	}
	if cfg.URLCheck.Endpoint == "" {
		return nil
	}
	return repute.NewURLClient(cfg.URLCheck.Endpoint, cfg.URLCheck.Timeout())
}

func (e *Evaluator) fileClient(cfg Config) *repute.FileClient {
	if e.FileCheck != nil {
		return e.FileCheck
	}
	if cfg.FileCheck.Endpoint == "" {
		return nil
	}
	return repute.NewFileClient(cfg.FileCheck.Endpoint, cfg.FileCheck.Timeout())
}

func (e *Evaluator) registryClient(cfg Config) *repute.RegistryClient {
	if e.Registry != nil {
		return e.Registry
	}
	return repute.NewRegistryClient(cfg.PackageCheck.Timeout())
}

// ThreatFilesPresent reports whether any rule YAML exists under home. Used
// by the CLI to warn when the heuristic layer is silently empty.
func ThreatFilesPresent(home string) bool {
	matches, _ := filepath.Glob(filepath.Join(ThreatDir(home), "*.y*ml"))
	return len(matches) > 0
}
