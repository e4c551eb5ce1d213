// Package client talks to a running finsight API server. CLI commands use it
// so they share the server's stores instead of opening their own.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/api"
	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/ingest"
	"github.com/papercomputeco/finsight/pkg/rag"
)

const defaultTimeout = 2 * time.Minute

// Client is a finsight API client.
type Client struct {
	target string
	http   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// New creates a client for the API server at target.
func New(target string, opts ...Option) (*Client, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API target URL: %q", target)
	}

	c := &Client{
		target: strings.TrimRight(target, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// SearchParams are the query parameters of a search.
type SearchParams struct {
	Query      string
	K          int
	SearchType string

	// Filters is a JSON metadata filter object.
	Filters string

	// SortBy is score, date or title. Empty leaves the server default.
	SortBy string
}

// Search runs GET /v1/search.
func (c *Client) Search(ctx context.Context, p SearchParams) (*api.SearchResponse, error) {
	q := url.Values{}
	q.Set("query", p.Query)
	if p.K > 0 {
		q.Set("k", strconv.Itoa(p.K))
	}
	if p.SearchType != "" {
		q.Set("search_type", p.SearchType)
	}
	if p.Filters != "" {
		q.Set("filters", p.Filters)
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
	}

	var out api.SearchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/search", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask runs POST /v1/ask.
func (c *Client) Ask(ctx context.Context, req api.AskRequest) (*rag.Answer, error) {
	var out rag.Answer
	if err := c.do(ctx, http.MethodPost, "/v1/ask", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Insights runs POST /v1/insights.
func (c *Client) Insights(ctx context.Context, req api.InsightsRequest) (*rag.Answer, error) {
	var out rag.Answer
	if err := c.do(ctx, http.MethodPost, "/v1/insights", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status runs GET /v1/status.
func (c *Client) Status(ctx context.Context) (*rag.Status, error) {
	var out rag.Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddDocuments stores docs synchronously.
func (c *Client) AddDocuments(ctx context.Context, docs []document.Input, embed bool) (*ingest.AddResult, error) {
	var out ingest.AddResult
	body := api.AddDocumentsRequest{Documents: docs, Embed: &embed}
	if err := c.do(ctx, http.MethodPost, "/v1/documents", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnqueueDocuments queues docs on the server's ingest pool and returns the
// job id.
func (c *Client) EnqueueDocuments(ctx context.Context, docs []document.Input, embed bool) (string, error) {
	var out api.JobAccepted
	body := api.AddDocumentsRequest{Documents: docs, Embed: &embed}
	q := url.Values{"async": []string{"true"}}
	if err := c.do(ctx, http.MethodPost, "/v1/documents", q, body, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// Job reports an async ingest job.
func (c *Client) Job(ctx context.Context, id string) (*ingest.JobStatus, error) {
	var out ingest.JobStatus
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reconcile runs POST /v1/reconcile.
func (c *Client) Reconcile(ctx context.Context, repair bool) (*ingest.ReconcileReport, error) {
	q := url.Values{}
	if repair {
		q.Set("repair", "true")
	}

	var out ingest.ReconcileReport
	if err := c.do(ctx, http.MethodPost, "/v1/reconcile", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	target := c.target + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to finsight API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er api.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Kind = er.Kind
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
