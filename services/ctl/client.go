// Package ctl implements the client-side operations behind trustdctl.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trustd/services/api"
)

// Client talks to a running trustd API instance.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{baseURL: trimmed, http: httpClient}, nil
}

// apiError carries the API's JSON error body alongside the status code.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &apiError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// Ingest submits a package locator for scoring. When async is false the call
// blocks until the API reports a terminal state or gives up waiting.
func (c *Client) Ingest(ctx context.Context, locator string, parents []string, async bool) (api.IngestResponse, error) {
	path := "/ingest"
	if async {
		path += "?mode=async"
	}
	var out api.IngestResponse
	err := c.do(ctx, http.MethodPost, path, api.IngestRequest{ModelURL: locator, Parents: parents}, &out)
	return out, err
}

// Search queries the registry. Type is one of "id", "regex" or "all".
func (c *Client) Search(ctx context.Context, searchType, query string, page, limit int) (api.SearchResponse, error) {
	params := url.Values{}
	params.Set("type", searchType)
	if query != "" {
		params.Set("query", query)
	}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out api.SearchResponse
	err := c.do(ctx, http.MethodGet, "/search?"+params.Encode(), nil, &out)
	return out, err
}

// Job fetches one job record by id.
func (c *Client) Job(ctx context.Context, jobID string) (api.JobResponse, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

// Requeue puts a dead job back on the queue with a fresh attempt allowance.
func (c *Client) Requeue(ctx context.Context, jobID string) (api.JobResponse, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/requeue", nil, &out)
	return out, err
}

// Logs returns a presigned URL for the job's archived grader output.
func (c *Client) Logs(ctx context.Context, jobID string) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
		URL   string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/logs", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Artifact fetches one registry entry by exact id.
func (c *Client) Artifact(ctx context.Context, id string) (api.SearchResponse, error) {
	return c.Search(ctx, "id", id, 0, 0)
}
