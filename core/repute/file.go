package repute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SeverityMalware is the upstream severity string that marks a file hash as
// known malware. It is the only severity that drives a critical finding.
const SeverityMalware = "SEVERITY_MALWARE"

// fileCheckRequest is the request body for a hash lookup batch.
type fileCheckRequest struct {
	Hashes []string `json:"hashes"`
}

// fileCheckResponse maps each submitted hash to a severity name.
type fileCheckResponse struct {
	Results []struct {
		Hash     string `json:"hash"`
		Severity string `json:"severity"`
	} `json:"results"`
}

// FileClient checks file hashes against a malware database.
type FileClient struct {
	endpoint string
	client   *http.Client
}

// NewFileClient builds a FileClient for the given endpoint. A zero timeout
// selects DefaultTimeout.
func NewFileClient(endpoint string, timeout time.Duration) *FileClient {
	return &FileClient{endpoint: endpoint, client: newHTTPClient(timeout)}
}

// Check looks up the given hex digests and returns a map from hash to
// severity name. Fail-open: any error yields an empty map.
func (c *FileClient) Check(ctx context.Context, hashes []string) map[string]string {
	out := make(map[string]string)
	if c.endpoint == "" || len(hashes) == 0 {
		return out
	}

	body, err := json.Marshal(fileCheckRequest{Hashes: hashes})
	if err != nil {
		return out
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out
	}

	var parsed fileCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return out
	}
	for _, r := range parsed.Results {
		if r.Hash != "" {
			out[r.Hash] = r.Severity
		}
	}
	return out
}

// String renders a short description for diagnostics.
func (c *FileClient) String() string {
	return fmt.Sprintf("file-check(%s)", c.endpoint)
}
