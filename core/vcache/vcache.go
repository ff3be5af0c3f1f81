// Package vcache persists URL, command, and package verdicts between hook
// invocations. Entries carry their own expiry; the TTL depends on what is
// being cached and how bad the verdict was, so malicious URLs are re-checked
// sooner than clean ones and freshly-published packages sooner than stable
// ones.
package vcache

import (
	"log/slog"
	"os"
	"time"

	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/decision"
	"github.com/sage-hq/sage/core/statefile"
)

// Default TTLs; the URL TTLs are configurable.
const (
	DefaultTTLMalicious = time.Hour
	DefaultTTLClean     = 24 * time.Hour

	packageTTLShort = time.Hour
	packageTTLLong  = 24 * time.Hour

	// freshAgeDays is the package age below which even a clean verdict is
	// re-checked hourly.
	freshAgeDays = 7

	// commandTTL is effectively permanent: command verdicts only change when
	// the rule corpus does, and the config hash covers that for plugins.
	commandTTL = 10 * 365 * 24 * time.Hour
)

// Entry is one cached verdict.
type Entry struct {
	Verdict   decision.Decision `json:"verdict"`
	Severity  decision.Severity `json:"severity"`
	Reasons   []string          `json:"reasons,omitempty"`
	Source    string            `json:"source"`
	CheckedAt time.Time         `json:"checked_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Cache is the on-disk verdict cache. URL keys are normalized URLs, command
// keys are SHA-256 digests, package keys are "registry:name[@version]".
type Cache struct {
	URLs     map[string]Entry `json:"urls"`
	Commands map[string]Entry `json:"commands"`
	Packages map[string]Entry `json:"packages"`

	path         string
	disabled     bool
	ttlMalicious time.Duration
	ttlClean     time.Duration
	now          func() time.Time
}

// Options configures cache behaviour.
type Options struct {
	Enabled      bool
	TTLMalicious time.Duration
	TTLClean     time.Duration
}

// Open loads the cache from path. A missing or corrupt file yields an empty
// cache; a disabled cache loads nothing and stores nothing.
func Open(path string, opts Options) *Cache {
	c := &Cache{
		URLs:         make(map[string]Entry),
		Commands:     make(map[string]Entry),
		Packages:     make(map[string]Entry),
		path:         path,
		disabled:     !opts.Enabled,
		ttlMalicious: opts.TTLMalicious,
		ttlClean:     opts.TTLClean,
		now:          time.Now,
	}
	if c.ttlMalicious <= 0 {
		c.ttlMalicious = DefaultTTLMalicious
	}
	if c.ttlClean <= 0 {
		c.ttlClean = DefaultTTLClean
	}
	if c.disabled {
		return c
	}

	if err := statefile.ReadJSON(path, c); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("verdict cache unreadable, starting empty", "path", path, "err", err)
		}
		return c
	}
	c.path = path
	if c.URLs == nil {
		c.URLs = make(map[string]Entry)
	}
	if c.Commands == nil {
		c.Commands = make(map[string]Entry)
	}
	if c.Packages == nil {
		c.Packages = make(map[string]Entry)
	}
	return c
}

// Save persists the cache atomically. Best-effort: failures are logged and
// swallowed because a lost cache write only costs a future re-check.
func (c *Cache) Save() {
	if c.disabled {
		return
	}
	if err := statefile.WriteJSON(c.path, c); err != nil {
		slog.Warn("saving verdict cache", "path", c.path, "err", err)
	}
}

// get returns a live entry from m, deleting it when expired.
func (c *Cache) get(m map[string]Entry, key string) *Entry {
	if c.disabled {
		return nil
	}
	e, ok := m[key]
	if !ok {
		return nil
	}
	if !e.ExpiresAt.After(c.now()) {
		delete(m, key)
		return nil
	}
	return &e
}

// GetURL returns the cached entry for a raw URL, or nil.
func (c *Cache) GetURL(raw string) *Entry {
	return c.get(c.URLs, artifact.NormalizeURL(raw))
}

// GetCommand returns the cached entry for a command, or nil.
func (c *Cache) GetCommand(cmd string) *Entry {
	return c.get(c.Commands, artifact.HashCommand(cmd))
}

// GetPackage returns the cached entry for a package key, or nil.
func (c *Cache) GetPackage(key string) *Entry {
	return c.get(c.Packages, key)
}

// PutURL caches a URL verdict. Malicious verdicts use the short TTL so a
// remediated site recovers quickly; clean verdicts use the long TTL. The
// verdict MUST come from the URL-check client for this URL — never from a
// heuristic match on a command the URL merely appeared in.
func (c *Cache) PutURL(raw string, v decision.Verdict, malicious bool) {
	if c.disabled {
		return
	}
	ttl := c.ttlClean
	if malicious {
		ttl = c.ttlMalicious
	}
	c.URLs[artifact.NormalizeURL(raw)] = c.entry(v, ttl)
}

// PutCommand caches a command verdict with far-future expiry.
func (c *Cache) PutCommand(cmd string, v decision.Verdict) {
	if c.disabled {
		return
	}
	c.Commands[artifact.HashCommand(cmd)] = c.entry(v, commandTTL)
}

// PutPackage caches a package verdict. The TTL matrix: deny 24h; allow 1h
// when the package is under a week old, otherwise 24h; everything else 1h.
func (c *Cache) PutPackage(key string, v decision.Verdict, ageDays int) {
	if c.disabled {
		return
	}
	var ttl time.Duration
	switch {
	case v.Decision == decision.Deny:
		ttl = packageTTLLong
	case v.Decision == decision.Allow && ageDays >= 0 && ageDays < freshAgeDays:
		ttl = packageTTLShort
	case v.Decision == decision.Allow:
		ttl = packageTTLLong
	default:
		ttl = packageTTLShort
	}
	c.Packages[key] = c.entry(v, ttl)
}

// entry builds an Entry from a verdict and TTL.
func (c *Cache) entry(v decision.Verdict, ttl time.Duration) Entry {
	now := c.now()
	return Entry{
		Verdict:   v.Decision,
		Severity:  v.Severity,
		Reasons:   v.Reasons,
		Source:    v.Source,
		CheckedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
