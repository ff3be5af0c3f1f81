package repute

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Registry names understood by the client.
const (
	RegistryNPM  = "npm"
	RegistryPyPI = "pypi"
)

// Default registry base URLs, overridable for tests.
const (
	defaultNPMBase  = "https://registry.npmjs.org"
	defaultPyPIBase = "https://pypi.org/pypi"
)

// registryRPS paces outbound metadata fetches so a long install list does
// not hammer the registries.
const registryRPS = 20

// Meta is the registry metadata Sage needs to score a package.
type Meta struct {
	ResolvedVersion       string
	LatestHash            string
	HashAlgorithm         string
	FirstReleaseDate      time.Time
	RequestedVersionFound bool
}

// RegistryClient fetches npm and PyPI package metadata.
type RegistryClient struct {
	npmBase  string
	pypiBase string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewRegistryClient builds a RegistryClient with default registry endpoints.
// A zero timeout selects DefaultTimeout.
func NewRegistryClient(timeout time.Duration) *RegistryClient {
	return &RegistryClient{
		npmBase:  defaultNPMBase,
		pypiBase: defaultPyPIBase,
		client:   newHTTPClient(timeout),
		limiter:  rate.NewLimiter(rate.Limit(registryRPS), registryRPS),
	}
}

// WithBases overrides the registry base URLs. Used by tests.
func (c *RegistryClient) WithBases(npmBase, pypiBase string) *RegistryClient {
	c.npmBase = strings.TrimRight(npmBase, "/")
	c.pypiBase = strings.TrimRight(pypiBase, "/")
	return c
}

// unsafeName rejects package names that could redirect the metadata fetch
// somewhere else on the registry host. Names containing path separators or
// parent-directory segments never reach the network.
func unsafeName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return true
	}
	// Scoped npm packages carry exactly one slash (@scope/name); it is
	// URL-encoded before use. Anything else with a separator is rejected.
	if strings.HasPrefix(name, "@") {
		return strings.Count(name, "/") != 1
	}
	return strings.ContainsAny(name, "/\\")
}

// Fetch retrieves metadata for a package. It returns (nil, nil) when the
// package does not exist or the name is unsafe, and an error for transport
// failures and 5xx responses so the caller's fail-open layer can decide.
func (c *RegistryClient) Fetch(ctx context.Context, registry, name, version string) (*Meta, error) {
	if unsafeName(name) {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch registry {
	case RegistryNPM:
		return c.fetchNPM(ctx, name, version)
	case RegistryPyPI:
		return c.fetchPyPI(ctx, name, version)
	default:
		return nil, fmt.Errorf("unknown registry %q", registry)
	}
}

// get performs a GET and classifies the status: 404 yields (nil, nil), 2xx
// returns the open body, and everything else is an error.
func (c *RegistryClient) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating registry request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("registry returned status %d for %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// npmMetadata is the subset of the npm packument Sage reads.
type npmMetadata struct {
	DistTags map[string]string            `json:"dist-tags"`
	Time     map[string]string            `json:"time"`
	Versions map[string]npmVersionDetails `json:"versions"`
}

type npmVersionDetails struct {
	Dist struct {
		Shasum    string `json:"shasum"`
		Integrity string `json:"integrity"`
	} `json:"dist"`
}

// fetchNPM reads the npm packument. Scoped names are URL-encoded so that
// @scope/name becomes @scope%2Fname in the request path.
func (c *RegistryClient) fetchNPM(ctx context.Context, name, version string) (*Meta, error) {
	encoded := name
	if strings.HasPrefix(name, "@") {
		encoded = strings.Replace(name, "/", "%2F", 1)
	} else {
		encoded = url.PathEscape(name)
	}

	resp, err := c.get(ctx, c.npmBase+"/"+encoded)
	if err != nil || resp == nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta npmMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding npm metadata for %s: %w", name, err)
	}

	out := &Meta{ResolvedVersion: meta.DistTags["latest"]}
	if created, ok := meta.Time["created"]; ok {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			out.FirstReleaseDate = t
		}
	}
	if version != "" {
		_, out.RequestedVersionFound = meta.Versions[version]
	} else {
		out.RequestedVersionFound = true
	}
	if v, ok := meta.Versions[out.ResolvedVersion]; ok {
		switch {
		case v.Dist.Integrity != "":
			// Integrity is "<alg>-<base64digest>".
			if alg, digest, found := strings.Cut(v.Dist.Integrity, "-"); found {
				out.HashAlgorithm = alg
				out.LatestHash = digest
			}
		case v.Dist.Shasum != "":
			out.HashAlgorithm = "sha1"
			out.LatestHash = v.Dist.Shasum
		}
	}
	return out, nil
}

// pypiMetadata is the subset of the PyPI JSON API Sage reads.
type pypiMetadata struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string][]pypiFile `json:"releases"`
	URLs     []pypiFile            `json:"urls"`
}

type pypiFile struct {
	UploadTime string `json:"upload_time_iso_8601"`
	Digests    struct {
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

// fetchPyPI reads the PyPI JSON metadata.
func (c *RegistryClient) fetchPyPI(ctx context.Context, name, version string) (*Meta, error) {
	resp, err := c.get(ctx, c.pypiBase+"/"+url.PathEscape(name)+"/json")
	if err != nil || resp == nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta pypiMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding pypi metadata for %s: %w", name, err)
	}

	out := &Meta{ResolvedVersion: meta.Info.Version}
	for rel, files := range meta.Releases {
		if version != "" && rel == version {
			out.RequestedVersionFound = true
		}
		for _, f := range files {
			if t, err := time.Parse(time.RFC3339, f.UploadTime); err == nil {
				if out.FirstReleaseDate.IsZero() || t.Before(out.FirstReleaseDate) {
					out.FirstReleaseDate = t
				}
			}
		}
	}
	if version == "" {
		out.RequestedVersionFound = true
	}
	for _, f := range meta.URLs {
		if f.Digests.SHA256 != "" {
			out.HashAlgorithm = "sha256"
			out.LatestHash = f.Digests.SHA256
			break
		}
	}
	return out, nil
}
