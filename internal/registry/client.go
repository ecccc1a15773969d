// Package registry is the client for the replica-management registry: the
// service that tracks replication rules and physical copies across storage
// locations and executes rule deletions.
//
// The reconciler only ever consumes the Client interface; the HTTP
// implementation talks JSON to the registry's REST surface and an in-memory
// Fake backs the tests.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout is the default timeout for registry requests.
const DefaultTimeout = 30 * time.Second

// Rule is a replication rule: a directive that a dataset must maintain a
// copy at a storage location.
type Rule struct {
	RSE   string `json:"rse"`
	State string `json:"state"`
}

// Replica is one physical file copy the registry knows about.
type Replica struct {
	Name  string `json:"name"`
	RSE   string `json:"rse"`
	Bytes int64  `json:"bytes"`
}

// Usage reports the remaining byte capacity of a storage location.
type Usage struct {
	RSE            string `json:"rse"`
	BytesRemaining int64  `json:"bytes_remaining"`
}

// Client is the registry surface the reconciler consumes.
//
// All reads are point-in-time snapshots with no freshness guarantee beyond
// "as of query time". DeleteRule is the only write: it removes the
// replication rule for a dataset at one location and returns the bytes
// freed.
type Client interface {
	ListRules(ctx context.Context, did string) ([]Rule, error)
	ListReplicas(ctx context.Context, did, rse string) ([]Replica, error)
	AccountUsage(ctx context.Context, rse string) (Usage, error)
	DeleteRule(ctx context.Context, did, rse string) (int64, error)
}

// HTTPClient talks to the registry's REST API.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client for the registry at baseURL.
// A zero timeout falls back to DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}
}

// ListRules returns the replication rules for a dataset across all
// storage locations.
func (c *HTTPClient) ListRules(ctx context.Context, did string) ([]Rule, error) {
	var rules []Rule
	path := fmt.Sprintf("/rules/%s", url.PathEscape(did))
	if err := c.getJSON(ctx, path, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ListReplicas returns the physical file replicas of a dataset at one
// storage location.
func (c *HTTPClient) ListReplicas(ctx context.Context, did, rse string) ([]Replica, error) {
	var replicas []Replica
	path := fmt.Sprintf("/replicas/%s/%s", url.PathEscape(did), url.PathEscape(rse))
	if err := c.getJSON(ctx, path, &replicas); err != nil {
		return nil, err
	}
	return replicas, nil
}

// AccountUsage returns the remaining capacity at one storage location.
func (c *HTTPClient) AccountUsage(ctx context.Context, rse string) (Usage, error) {
	var usage Usage
	path := fmt.Sprintf("/usage/%s", url.PathEscape(rse))
	if err := c.getJSON(ctx, path, &usage); err != nil {
		return Usage{}, err
	}
	return usage, nil
}

// DeleteRule removes the replication rule for a dataset at one location and
// returns the bytes freed.
func (c *HTTPClient) DeleteRule(ctx context.Context, did, rse string) (int64, error) {
	body, err := json.Marshal(map[string]string{"did": did, "rse": rse})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/rules", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("registry error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		BytesFreed int64 `json:"bytes_freed"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("failed to parse deletion response: %w", err)
	}
	return result.BytesFreed, nil
}

// getJSON performs a GET request and decodes the JSON response into out.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("registry error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse registry response: %w", err)
	}
	return nil
}
