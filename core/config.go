// Package core wires the evaluation pipeline: configuration, the per-call
// evaluator, and the session-start plugin scan entry points.
package core

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sage-hq/sage/core/decision"
	"github.com/sage-hq/sage/core/statefile"
)

// CheckConfig configures one reputation client.
type CheckConfig struct {
	Enabled        bool    `json:"enabled"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
	Endpoint       string  `json:"endpoint,omitempty"`
}

// Timeout returns the configured timeout as a duration.
func (c CheckConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// CacheConfig configures the verdict cache.
type CacheConfig struct {
	Enabled             bool   `json:"enabled"`
	TTLMaliciousSeconds int    `json:"ttl_malicious_seconds"`
	TTLCleanSeconds     int    `json:"ttl_clean_seconds"`
	Path                string `json:"path,omitempty"`
}

// AllowlistConfig locates the allowlist file.
type AllowlistConfig struct {
	Path string `json:"path,omitempty"`
}

// LoggingConfig configures the audit log.
type LoggingConfig struct {
	Enabled  bool   `json:"enabled"`
	LogClean bool   `json:"log_clean"`
	Path     string `json:"path,omitempty"`
	MaxBytes int64  `json:"max_bytes"`
	MaxFiles int    `json:"max_files"`
}

// Config is the full on-disk configuration. Every field is optional; missing
// or malformed files yield defaults.
type Config struct {
	URLCheck          CheckConfig          `json:"url_check"`
	FileCheck         CheckConfig          `json:"file_check"`
	PackageCheck      CheckConfig          `json:"package_check"`
	HeuristicsEnabled bool                 `json:"heuristics_enabled"`
	Cache             CacheConfig          `json:"cache"`
	Allowlist         AllowlistConfig      `json:"allowlist"`
	Logging           LoggingConfig        `json:"logging"`
	Sensitivity       decision.Sensitivity `json:"sensitivity"`
	DisabledThreats   []string             `json:"disabled_threats"`
}

// DefaultConfig returns the built-in defaults, with state paths resolved
// under home.
func DefaultConfig(home string) Config {
	return Config{
		URLCheck:          CheckConfig{Enabled: true, TimeoutSeconds: 5},
		FileCheck:         CheckConfig{Enabled: true, TimeoutSeconds: 5},
		PackageCheck:      CheckConfig{Enabled: true, TimeoutSeconds: 5},
		HeuristicsEnabled: true,
		Cache: CacheConfig{
			Enabled:             true,
			TTLMaliciousSeconds: 3600,
			TTLCleanSeconds:     86400,
			Path:                filepath.Join(home, "cache.json"),
		},
		Allowlist: AllowlistConfig{Path: filepath.Join(home, "allowlist.json")},
		Logging: LoggingConfig{
			Enabled:  true,
			LogClean: false,
			Path:     filepath.Join(home, "audit.jsonl"),
			MaxBytes: 5242880,
			MaxFiles: 3,
		},
		Sensitivity: decision.Balanced,
	}
}

// LoadConfig reads config.json from home, overlaying user values on the
// defaults. A missing, unreadable, or malformed file yields pure defaults.
func LoadConfig(home string) Config {
	cfg := DefaultConfig(home)
	path := filepath.Join(home, "config.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("config unreadable, using defaults", "path", path, "err", err)
		}
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Warn("config malformed, using defaults", "path", path, "err", err)
		return DefaultConfig(home)
	}

	if !decision.ValidSensitivity(cfg.Sensitivity) {
		cfg.Sensitivity = decision.Balanced
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(home, "cache.json")
	}
	if cfg.Allowlist.Path == "" {
		cfg.Allowlist.Path = filepath.Join(home, "allowlist.json")
	}
	if cfg.Logging.Path == "" {
		cfg.Logging.Path = filepath.Join(home, "audit.jsonl")
	}
	return cfg
}

// ThreatDir and TrustedDir locate the rule corpus under home.
func ThreatDir(home string) string  { return filepath.Join(home, "threats") }
func TrustedDir(home string) string { return filepath.Join(home, "trusted") }

// Home re-exports the state directory lookup for callers that only import
// core.
func Home() string { return statefile.Home() }
