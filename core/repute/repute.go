// Package repute implements Sage's external reputation clients: batched URL
// classification, file-hash lookups, and package-registry metadata fetches.
//
// Every client follows the same contract: a hard per-request timeout, batching
// where the upstream supports it, and fail-open on any transport error or
// non-2xx response. A reputation outage degrades Sage to heuristics-only; it
// never blocks the host agent.
package repute

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds every outbound reputation request.
const DefaultTimeout = 5 * time.Second

// userAgent identifies Sage to reputation upstreams. The version is injected
// at build time by the CLI.
var userAgent = "sage/dev"

// SetProductVersion stamps the product version used in outbound requests.
func SetProductVersion(v string) {
	if v != "" {
		userAgent = "sage/" + v
	}
}

// newHTTPClient returns an http.Client with the given timeout, falling back
// to DefaultTimeout when zero.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
