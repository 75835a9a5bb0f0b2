package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/apmwatch/apmwatch/internal/config"
)

// maxErrorBody bounds how much of an error response is carried in the
// returned error for logging.
const maxErrorBody = 2048

// Client is a thin adapter over the Elasticsearch REST API.
// The zero timeout case is guarded in config validation, so every request
// is bounded by the configured http.Client timeout.
type Client struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
}

// New builds a Client from the elasticsearch config section.
func New(cfg config.ElasticsearchConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpc:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Info describes the cluster, decoded from the root endpoint.
type Info struct {
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
}

// Ping verifies the store is reachable and returns its cluster info.
func (c *Client) Ping(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, fmt.Errorf("elastic: ping: %w", err)
	}
	return &info, nil
}

// SearchResponse is the generic _search response envelope. Aggregations are
// kept raw for the caller to decode into its own structure.
type SearchResponse struct {
	Took         int                        `json:"took"`
	TimedOut     bool                       `json:"timed_out"`
	Hits         SearchHits                 `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// SearchHits carries the total hit count. apmwatch queries with size 0, so
// the individual hits list is always empty and not modelled here.
type SearchHits struct {
	Total HitsTotal `json:"total"`
}

// HitsTotal is the hit count with its relation ("eq" or "gte").
type HitsTotal struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// Search executes body as a _search request against the index pattern.
func (c *Client) Search(ctx context.Context, index string, body any) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/"+index+"/_search", body, &resp); err != nil {
		return nil, fmt.Errorf("elastic: search %q: %w", index, err)
	}
	return &resp, nil
}

// IndexResult is the outcome of one document index operation.
type IndexResult struct {
	Result string `json:"result"` // "created" or "updated"
}

// Index stores doc in the named index. With refresh set the document is
// searchable before the call returns.
func (c *Client) Index(ctx context.Context, index string, doc any, refresh bool) (*IndexResult, error) {
	path := "/" + index + "/_doc"
	if refresh {
		path += "?refresh=true"
	}
	var res IndexResult
	if err := c.do(ctx, http.MethodPost, path, doc, &res); err != nil {
		return nil, fmt.Errorf("elastic: index %q: %w", index, err)
	}
	return &res, nil
}

// do executes one request and decodes the JSON response into out.
// Non-2xx responses become errors carrying the status and a body excerpt.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
