// Package solr implements the Merge & Solr Update Pipeline of spec §4.7:
// queue-based batched delivery of add/delete/commit operations to a Solr
// update endpoint, with merge-aware document construction for Dedup Groups
// and component-part hosts.
package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// Client speaks the wire protocol of spec §6: JSON-over-HTTP against a
// single update endpoint, with basic auth when configured. Non-2xx
// responses are hard failures that include the response body.
type Client struct {
	http     *retryablehttp.Client
	endpoint string
	username string
	password string
}

// NewClient builds a Client against the given update endpoint.
func NewClient(httpClient *retryablehttp.Client, endpoint, username, password string) *Client {
	return &Client{http: httpClient, endpoint: endpoint, username: username, password: password}
}

// Add POSTs a batch of documents: `[ {doc1}, {doc2}, ... ]`.
func (c *Client) Add(ctx context.Context, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	return c.post(ctx, docs)
}

// DeleteByID POSTs `{"delete":{"id":"..."}}`.
func (c *Client) DeleteByID(ctx context.Context, id string) error {
	return c.post(ctx, map[string]any{"delete": map[string]any{"id": id}})
}

// DeleteByQuery POSTs `{"delete":{"query":"..."}}`.
func (c *Client) DeleteByQuery(ctx context.Context, query string) error {
	return c.post(ctx, map[string]any{"delete": map[string]any{"query": query}})
}

// Commit POSTs `{"commit":{}}`.
func (c *Client) Commit(ctx context.Context) error {
	return c.post(ctx, map[string]any{"commit": map[string]any{}})
}

// Optimize POSTs `{"optimize":{}}`.
func (c *Client) Optimize(ctx context.Context) error {
	return c.post(ctx, map[string]any{"optimize": map[string]any{}})
}

// Get fetches the currently-indexed document for id from Solr's select
// handler, for `updatesolr --compare` (spec §4.7). ok is false when Solr
// has no document for id.
func (c *Client) Get(ctx context.Context, id string) (map[string]any, bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, selectEndpoint(c.endpoint), nil)
	if err != nil {
		return nil, false, fmt.Errorf("solr: build select request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", fmt.Sprintf("id:%q", id))
	q.Set("wt", "json")
	q.Set("rows", "1")
	req.URL.RawQuery = q.Encode()
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("solr: select request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("solr: select endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Response struct {
			Docs []map[string]any `json:"docs"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("solr: decode select response: %w", err)
	}
	if len(parsed.Response.Docs) == 0 {
		return nil, false, nil
	}
	return parsed.Response.Docs[0], true, nil
}

// selectEndpoint derives the select handler URL from the update handler
// URL (e.g. ".../update" -> ".../select"), the convention every Solr core
// follows for its two standard request handlers.
func selectEndpoint(updateURL string) string {
	if idx := strings.LastIndex(updateURL, "/update"); idx >= 0 {
		return updateURL[:idx] + "/select"
	}
	return strings.TrimSuffix(updateURL, "/") + "/select"
}

func (c *Client) post(ctx context.Context, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("solr: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("solr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("solr: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("solr: update endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
