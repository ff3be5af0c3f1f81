package repute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// urlBatchLimit is the maximum number of keys per URL classification request.
const urlBatchLimit = 50

// URLFinding is a single classification finding for a URL.
type URLFinding struct {
	SeverityName string `json:"severity_name"`
	TypeName     string `json:"type_name"`
}

// URLResult is the outcome of a reputation lookup for one URL. Malicious is
// true iff the upstream returned a malicious classification object; Flags
// carry softer suspicion signals.
type URLResult struct {
	URL       string
	Malicious bool
	Findings  []URLFinding
	Flags     []string
}

// urlCheckRequest is the request body for a classification batch.
type urlCheckRequest struct {
	Keys []string `json:"keys"`
}

// The response nesting mirrors the upstream answer envelope: the malicious
// object is only present for malicious keys, which is the signal itself.
type urlCheckResponse struct {
	Answers []urlAnswer `json:"answers"`
}

type urlAnswer struct {
	Key    string `json:"key"`
	Result struct {
		Success *struct {
			Classification struct {
				Result struct {
					Malicious *struct {
						Findings []URLFinding `json:"findings"`
					} `json:"malicious"`
				} `json:"result"`
				Flags []struct {
					Name string `json:"name"`
				} `json:"flags"`
			} `json:"classification"`
		} `json:"success"`
	} `json:"result"`
}

// URLClient checks URL reputation against a classification endpoint.
type URLClient struct {
	endpoint string
	client   *http.Client
}

// NewURLClient builds a URLClient for the given endpoint. A zero timeout
// selects DefaultTimeout.
func NewURLClient(endpoint string, timeout time.Duration) *URLClient {
	return &URLClient{endpoint: endpoint, client: newHTTPClient(timeout)}
}

// Check classifies the given URL-like keys in batches of at most fifty. The
// call is fail-open: on any transport or decode error the URLs from that
// batch are simply absent from the result, and the caller treats them as
// unknown. Results preserve input order within each batch.
func (c *URLClient) Check(ctx context.Context, urls []string) []URLResult {
	if c.endpoint == "" || len(urls) == 0 {
		return nil
	}

	var out []URLResult
	for start := 0; start < len(urls); start += urlBatchLimit {
		end := min(start+urlBatchLimit, len(urls))
		batch, err := c.checkBatch(ctx, urls[start:end])
		if err != nil {
			continue // fail-open: skip the batch
		}
		out = append(out, batch...)
	}
	return out
}

// checkBatch performs one classification request.
func (c *URLClient) checkBatch(ctx context.Context, urls []string) ([]URLResult, error) {
	body, err := json.Marshal(urlCheckRequest{Keys: urls})
	if err != nil {
		return nil, fmt.Errorf("marshalling url-check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating url-check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("url-check endpoint returned status %d", resp.StatusCode)
	}

	var parsed urlCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	results := make([]URLResult, 0, len(parsed.Answers))
	for i, ans := range parsed.Answers {
		r := URLResult{URL: ans.Key}
		if r.URL == "" && i < len(urls) {
			r.URL = urls[i]
		}
		if s := ans.Result.Success; s != nil {
			if mal := s.Classification.Result.Malicious; mal != nil {
				r.Malicious = true
				r.Findings = mal.Findings
			}
			for _, f := range s.Classification.Flags {
				r.Flags = append(r.Flags, f.Name)
			}
		}
		results = append(results, r)
	}
	return results, nil
}
