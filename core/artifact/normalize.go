package artifact

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NormalizeURL canonicalizes a URL string for use as an allowlist or cache
// key: scheme and host are lowercased, the fragment is dropped, and query
// parameters are sorted by key name. Path case is preserved, including for
// scheme-less values like "bun.sh/Install", where only the leading host
// segment is lowercased. If the string does not parse as a URL the lowercased
// raw string is returned so that the function is total.
func NormalizeURL(s string) string {
	trimmed := strings.TrimSpace(s)
	u, err := url.Parse(trimmed)
	if err != nil {
		return strings.ToLower(trimmed)
	}
	if u.Scheme == "" && u.Host == "" {
		host, rest, ok := strings.Cut(trimmed, "/")
		if !ok {
			return strings.ToLower(trimmed)
		}
		return strings.ToLower(host) + "/" + rest
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		u.RawQuery = sortQuery(u.RawQuery)
	}
	return u.String()
}

// sortQuery re-encodes a raw query string with parameters ordered by key.
// Values under the same key keep their original relative order.
func sortQuery(raw string) string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// HashCommand returns the SHA-256 hex digest of the exact command bytes. No
// normalization is applied: whitespace and quoting are significant.
func HashCommand(cmd string) string {
	sum := sha256.Sum256([]byte(cmd))
	return fmt.Sprintf("%x", sum)
}

// NormalizeFilePath expands a leading ~ to the user home directory and
// collapses . and .. segments lexically. Symlinks are not resolved and case
// is preserved.
func NormalizeFilePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			if p == "~" {
				p = home
			} else {
				p = filepath.Join(home, p[2:])
			}
		}
	}
	return filepath.Clean(p)
}

// HostOf returns the lowercased host portion of a URL string, or the empty
// string when the value does not parse as a URL with a host.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
