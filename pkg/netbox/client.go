// Package netbox is a thin client for the subset of the NetBox REST API the
// seeder uses. Failed writes are classified once, here, into ConflictError,
// NotFoundError or APIError so callers can branch on type.
package netbox

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

	"github.com/newtron-network/nbseed/pkg/util"
)

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// Client talks to one NetBox instance.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
	userAgent  string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. A nil h is ignored.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the per-request timeout on a copy of the http.Client, so a
// client passed through WithHTTPClient is left as it was.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			cp := *c.httpClient
			cp.Timeout = d
			c.httpClient = &cp
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient returns a client for the NetBox at baseURL (scheme and host,
// optionally a path prefix; "/api/" is appended per request). An empty token
// sends no Authorization header.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing NetBox URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("NetBox URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("NetBox URL %q: missing host", baseURL)
	}
	c := &Client{
		base:       u,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "nbseed",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the NetBox URL the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Status fetches /api/status/. It is the cheapest authenticated round trip
// and is used as a connectivity check before a run.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "status", c.apiPath("status"), nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Query builds filter parameters from key/value pairs.
//
//	Query("device_id", "3", "name", "Ethernet1")
func Query(kv ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Add(kv[i], kv[i+1])
	}
	return q
}

// ID formats an object ID for use in Query.
func ID(id int) string {
	return strconv.Itoa(id)
}

// Create POSTs req to endpoint and decodes the created object.
func Create[T any](ctx context.Context, c *Client, endpoint string, req any) (*T, error) {
	var out T
	if err := c.do(ctx, http.MethodPost, endpoint, c.apiPath(endpoint), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patch applies a partial update to object id.
func Patch[T any](ctx context.Context, c *Client, endpoint string, id int, req any) (*T, error) {
	var out T
	if err := c.do(ctx, http.MethodPatch, endpoint, c.apiPath(endpoint, ID(id)), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByID fetches object id. A 404 becomes a NotFoundError.
func GetByID[T any](ctx context.Context, c *Client, endpoint string, id int) (*T, error) {
	var out T
	if err := c.do(ctx, http.MethodGet, endpoint, c.apiPath(endpoint, ID(id)), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// List returns every object matching query, following pagination.
func List[T any](ctx context.Context, c *Client, endpoint string, query url.Values) ([]T, error) {
	path := c.apiPath(endpoint)
	var all []T
	for {
		var p page[T]
		if err := c.do(ctx, http.MethodGet, endpoint, path, query, nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Results...)
		if p.Next == nil || *p.Next == "" {
			return all, nil
		}
		next, err := url.Parse(*p.Next)
		if err != nil {
			return nil, fmt.Errorf("%s: bad next link %q: %w", endpoint, *p.Next, err)
		}
		// The server may report its own host (e.g. behind a tunnel); only
		// the path and query are taken from the link.
		path, query = next.Path, next.Query()
	}
}

// Get returns the single object matching query. Zero matches is a
// NotFoundError; more than one is an error since the query was meant to
// name a natural key.
func Get[T any](ctx context.Context, c *Client, endpoint string, query url.Values) (*T, error) {
	items, err := List[T](ctx, c, endpoint, query)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, &NotFoundError{Endpoint: endpoint, Query: query.Encode()}
	case 1:
		return &items[0], nil
	}
	return nil, fmt.Errorf("%s: %d objects match %s", endpoint, len(items), query.Encode())
}

func (c *Client) apiPath(endpoint string, parts ...string) string {
	p := c.base.Path + "/api/" + strings.Trim(endpoint, "/") + "/"
	for _, part := range parts {
		p += strings.Trim(part, "/") + "/"
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path = path
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}
	util.WithFields(map[string]interface{}{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("netbox request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(method, path, endpoint, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
