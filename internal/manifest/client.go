package manifest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	sdhttp "github.com/Sakurayuki-A/StarDriver/internal/http"
)

// listPause separates consecutive sub-list fetches. The patch servers
// are shared infrastructure; do not hammer them.
const listPause = 500 * time.Millisecond

// Stream is an open byte stream for one entry, with its expected
// length when the server declared one (-1 otherwise).
type Stream struct {
	Body   io.ReadCloser
	Length int64
}

// StreamOpener opens a byte stream for a manifest entry. Tests inject
// in-memory fakes; production uses *Client.
type StreamOpener interface {
	OpenStream(ctx context.Context, entry Entry, useBackup bool) (*Stream, error)
}

// Client retrieves manifest documents and file streams from the patch
// servers.
type Client struct {
	http    *sdhttp.Client
	baseURL string // management document URL
	log     *slog.Logger

	root *RootDescriptor
}

// NewClient creates a manifest client. managementURL is the full URL
// of the root descriptor document.
func NewClient(hc *sdhttp.Client, managementURL string, log *slog.Logger) *Client {
	return &Client{
		http:    hc,
		baseURL: managementURL,
		log:     log,
	}
}

// FetchRoot retrieves and parses the root descriptor, remembering it
// for subsequent OpenStream calls. The advisory timeout is applied to
// the underlying HTTP client.
func (c *Client) FetchRoot(ctx context.Context) (*RootDescriptor, error) {
	body, err := c.getText(ctx, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch root descriptor: %w", err)
	}

	root, err := ParseRoot(body)
	if err != nil {
		return nil, err
	}

	c.root = root
	c.http.SetTimeout(root.Timeout())
	c.log.Debug("root descriptor",
		slog.String("patch_url", root.PatchURL),
		slog.String("master_url", root.MasterURL),
		slog.Int("retry_num", root.RetryNum),
		slog.Int("timeout_ms", root.TimeoutMillis))
	return root, nil
}

// FetchList retrieves one manifest sub-list from the patch base.
func (c *Client) FetchList(ctx context.Context, root *RootDescriptor, name string, reboot bool) ([]Entry, error) {
	url := joinURL(root.PatchURL, name)
	body, err := c.getText(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch list %s: %w", name, err)
	}

	entries := ParseList(body, reboot, c.log)
	c.log.Info("fetched manifest list",
		slog.String("name", name), slog.Int("entries", len(entries)))
	return entries, nil
}

// FetchManifest retrieves the sub-lists for the selection and returns
// their de-duplicated union.
func (c *Client) FetchManifest(ctx context.Context, root *RootDescriptor, sel Selection) ([]Entry, error) {
	specs := sel.lists()
	batches := make([][]Entry, len(specs))

	for i, spec := range specs {
		if i > 0 {
			select {
			case <-time.After(listPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		entries, err := c.FetchList(ctx, root, spec.name, spec.reboot)
		if err != nil {
			return nil, err
		}
		batches[i] = entries
	}

	return union(batches, specs), nil
}

// OpenStream opens a GET stream for the entry's content. Requires a
// prior successful FetchRoot. Non-2xx statuses are returned as
// StatusError so the pipeline can classify them.
func (c *Client) OpenStream(ctx context.Context, entry Entry, useBackup bool) (*Stream, error) {
	if c.root == nil {
		return nil, fmt.Errorf("open stream: root descriptor not fetched")
	}

	url := entry.URL(c.root, useBackup)
	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
	}

	return &Stream{Body: resp.Body, Length: resp.ContentLength}, nil
}

// getText GETs a URL and returns the body as a string. A Forbidden
// response is surfaced with an explanation: the patch servers answer
// 403 to requests from outside the service region.
func (c *Client) getText(ctx context.Context, url string) (string, error) {
	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%s: Forbidden (the patch server rejected the request; "+
			"this usually means a regional restriction)", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %s", e.URL, e.Status)
}

// Kind classifies the status for retry policy.
func (e *StatusError) Kind() sdhttp.ErrorKind {
	return sdhttp.ClassifyStatus(e.Code)
}
