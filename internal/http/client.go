package http

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

// UserAgent is sent on every request. The patch servers reject
// unrecognized agents, so this must match the official launcher.
const UserAgent = "AQUA_HTTP"

// Options configures the HTTP client.
type Options struct {
	// MaxConnsPerHost caps concurrent connections to a single host.
	// Default: 28 (matches the worker pool size).
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive.
	// Default: 90s
	IdleConnTimeout time.Duration

	// Timeout for individual requests. Covers the full exchange,
	// including the body read.
	// Default: 30s
	Timeout time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxConnsPerHost: 28,
		IdleConnTimeout: 90 * time.Second,
		Timeout:         30 * time.Second,
	}
}

// Client is an HTTP client tuned for many small-to-large file
// downloads against a single patch host.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
// Responses are transparently decompressed.
func NewClient(opts Options) *Client {
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 28
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = 90 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		MaxIdleConns:        opts.MaxConnsPerHost * 2,
		IdleConnTimeout:     opts.IdleConnTimeout,
	}

	return &Client{
		client: &http.Client{
			Transport: gzhttp.Transport(transport),
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// SetTimeout overrides the request timeout. Used when the root
// descriptor advertises its own timeout advisory.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.client.Timeout = d
	}
}

// Get performs a GET request with the fixed launcher headers.
// The response is returned regardless of status code; callers
// classify non-2xx statuses themselves.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %s: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Host = u.Host
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	return c.client.Do(req)
}

// CloseIdleConnections drops idle connections from the pool.
// The engine calls this periodically to recycle stale connections.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
