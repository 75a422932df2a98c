package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/modoterra/logcap/pkg/core"
)

// ErrNotFound is returned when the daemon answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to a logcapd server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for addr, using the same forms the server
// accepts: "host:port", ":port", "http://host:port" or "unix:/path".
func NewClient(addr string) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	base := addr

	switch {
	case strings.HasPrefix(addr, unixPrefix):
		path := strings.TrimPrefix(addr, unixPrefix)
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		}
		base = "http://logcapd"
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
	case strings.HasPrefix(addr, ":"):
		base = "http://127.0.0.1" + addr
	default:
		base = "http://" + addr
	}

	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Transport: transport, Timeout: 2 * time.Minute},
	}
}

// Start starts a capture on p.
func (c *Client) Start(ctx context.Context, p core.Platform) (StartResponse, error) {
	var resp StartResponse
	body, err := c.get(ctx, StartPath(p))
	if err != nil {
		return resp, err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode start response: %w", err)
	}
	return resp, nil
}

// Stop stops the capture for session id and returns the display records
// keyed by column name.
func (c *Client) Stop(ctx context.Context, p core.Platform, id string) ([]map[string]string, error) {
	body, err := c.get(ctx, StopPath(p, id))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	var records []map[string]string
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode stop response: %w", err)
	}
	return records, nil
}

// Download copies the structured artifact for session id to w and returns
// the filename the server suggested.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+DownloadPath(id), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	filename := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return filename, fmt.Errorf("download: %w", err)
	}
	return filename, nil
}

// Health reports daemon liveness and running captures.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	body, err := c.get(ctx, "/healthz")
	if err != nil {
		return resp, err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode health response: %w", err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(msg))
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, text)
	}
	return nil, fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, text)
}
