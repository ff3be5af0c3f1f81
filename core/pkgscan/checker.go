package pkgscan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-hq/sage/core/repute"
)

// Verdict classifies one checked package.
type Verdict string

// Package verdict constants.
const (
	VerdictClean         Verdict = "clean"
	VerdictNotFound      Verdict = "not_found"
	VerdictSuspiciousAge Verdict = "suspicious_age"
	VerdictMalicious     Verdict = "malicious"
	VerdictUnknown       Verdict = "unknown"
)

// freshnessWindow is how young a package's first release may be before the
// package is flagged as suspiciously new.
const freshnessWindow = 14 * 24 * time.Hour

// defaultConcurrency bounds parallel registry fetches per evaluation so a
// long install list cannot fan out unboundedly.
const defaultConcurrency = 8

// Result is the outcome of checking one package.
type Result struct {
	Package    Package
	Verdict    Verdict
	Confidence float64
	Details    string
	AgeDays    int
}

// Checker scores packages against registry metadata and the file-hash
// malware database.
type Checker struct {
	Registry         *repute.RegistryClient
	Files            *repute.FileClient
	FileCheckEnabled bool
	Concurrency      int

	// now is a hook for tests.
	now func() time.Time
}

// NewChecker builds a Checker with bounded default concurrency.
func NewChecker(registry *repute.RegistryClient, files *repute.FileClient, fileCheck bool) *Checker {
	return &Checker{
		Registry:         registry,
		Files:            files,
		FileCheckEnabled: fileCheck,
		Concurrency:      defaultConcurrency,
		now:              time.Now,
	}
}

// Check scores every package. Fetches run in parallel under an errgroup
// with a concurrency limit; results preserve input order. Any per-package
// failure degrades that package to unknown rather than failing the batch.
func (c *Checker) Check(ctx context.Context, pkgs []Package) []Result {
	if len(pkgs) == 0 {
		return nil
	}

	results := make([]Result, len(pkgs))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	limit := c.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g.SetLimit(limit)

	for i, p := range pkgs {
		g.Go(func() error {
			r := c.checkOne(gCtx, p)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checkOne scores a single package.
func (c *Checker) checkOne(ctx context.Context, p Package) Result {
	meta, err := c.Registry.Fetch(ctx, p.Registry, p.Name, p.Version)
	if err != nil {
		// Transport or 5xx: fail open.
		return Result{Package: p, Verdict: VerdictUnknown, Confidence: 0,
			Details: fmt.Sprintf("registry lookup failed: %v", err)}
	}
	if meta == nil {
		return Result{Package: p, Verdict: VerdictNotFound, Confidence: 0.9,
			Details: fmt.Sprintf("package %q not found on %s", p.Name, p.Registry)}
	}

	if c.FileCheckEnabled && c.Files != nil && meta.LatestHash != "" {
		severities := c.Files.Check(ctx, []string{meta.LatestHash})
		if severities[meta.LatestHash] == repute.SeverityMalware {
			return Result{Package: p, Verdict: VerdictMalicious, Confidence: 0.95,
				Details: fmt.Sprintf("artifact hash for %s@%s is known malware", p.Name, meta.ResolvedVersion)}
		}
	}

	if !meta.FirstReleaseDate.IsZero() {
		age := c.now().Sub(meta.FirstReleaseDate)
		if age < freshnessWindow {
			days := int(age.Hours() / 24)
			return Result{Package: p, Verdict: VerdictSuspiciousAge, Confidence: 0.6, AgeDays: days,
				Details: fmt.Sprintf("package %q was first published %d day(s) ago", p.Name, days)}
		}
	}

	return Result{Package: p, Verdict: VerdictClean, Confidence: 0.8}
}
