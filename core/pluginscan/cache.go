package pluginscan

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sage-hq/sage/core/statefile"
)

// entryTTL is how long a scan result stays valid for an unchanged plugin.
const entryTTL = 7 * 24 * time.Hour

// CacheEntry is one remembered scan.
type CacheEntry struct {
	ScannedAt time.Time `json:"scanned_at"`
	Findings  []Finding `json:"findings"`
}

// Cache remembers scan results keyed by plugin identity. All entries are
// dropped when the config hash changes, since new rules may find threats in
// previously clean plugins.
type Cache struct {
	ConfigHash string                `json:"config_hash"`
	Entries    map[string]CacheEntry `json:"entries"`

	path string
	now  func() time.Time
}

// OpenCache loads the scan cache, invalidating it wholesale when configHash
// differs from the stored one. Missing or corrupt files yield an empty
// cache.
func OpenCache(path, configHash string) *Cache {
	c := &Cache{
		ConfigHash: configHash,
		Entries:    map[string]CacheEntry{},
		path:       path,
		now:        time.Now,
	}

	var stored Cache
	if err := statefile.ReadJSON(path, &stored); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("plugin scan cache unreadable, starting empty", "path", path, "err", err)
		}
		return c
	}
	if stored.ConfigHash != configHash || stored.Entries == nil {
		return c
	}
	c.Entries = stored.Entries
	return c
}

// Get returns the cached entry for key when present and fresh.
func (c *Cache) Get(key string) (CacheEntry, bool) {
	e, ok := c.Entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	if c.now().Sub(e.ScannedAt) > entryTTL {
		delete(c.Entries, key)
		return CacheEntry{}, false
	}
	return e, true
}

// Put records a scan result. Empty findings are stored too: a clean cached
// plugin is skipped entirely on the next session.
func (c *Cache) Put(key string, findings []Finding) {
	c.Entries[key] = CacheEntry{ScannedAt: c.now(), Findings: findings}
}

// Save persists the cache atomically, best-effort.
func (c *Cache) Save() {
	if err := statefile.WriteJSON(c.path, c); err != nil {
		slog.Warn("saving plugin scan cache", "path", c.path, "err", err)
	}
}

// ConfigHash digests the product version together with every YAML file in
// the given directories, in sorted path order. Any rule or trusted-domain
// edit therefore invalidates the scan cache.
func ConfigHash(version string, dirs ...string) string {
	h := sha256.New()
	io.WriteString(h, version)

	for _, dir := range dirs {
		var paths []string
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, _ := filepath.Glob(filepath.Join(dir, pattern))
			paths = append(paths, matches...)
		}
		sort.Strings(paths)
		for _, p := range paths {
			io.WriteString(h, p)
			if data, err := os.ReadFile(p); err == nil {
				h.Write(data)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
