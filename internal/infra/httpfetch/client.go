// Package httpfetch downloads resource bytes over HTTP.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vietddude/fetchkit/internal/metrics"
)

const (
	DefaultUserAgent    = "fetchkit/1.0"
	DefaultMaxBodyBytes = 32 << 20
)

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// StatusError is a non-2xx response. It exposes HTTPStatus for the transient-error classifier.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http get %q: status %d", e.URL, e.Code)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.Code }

// Config holds downloader configuration.
type Config struct {
	UserAgent    string
	MaxBodyBytes int64
	// Timeout bounds a single request. Zero leaves the deadline to the caller's context.
	Timeout time.Duration
}

// Client downloads resources.
type Client struct {
	httpClient   *http.Client
	userAgent    string
	maxBodyBytes int64
}

// New creates a downloader with a tuned transport.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// NewWithHTTPClient wraps an existing http.Client, e.g. httptest.Server.Client().
func NewWithHTTPClient(hc *http.Client, cfg Config) *Client {
	c := New(cfg)
	c.httpClient = hc
	return c
}

// Download fetches uri and returns its body and content type.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", fmt.Errorf("http get: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("http get %q: unsupported scheme %q", uri, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("http get: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.DownloadLatency.WithLabelValues(u.Host, "error").Observe(time.Since(start).Seconds())
		return nil, "", fmt.Errorf("http get %q: %w", uri, err)
	}
	defer resp.Body.Close()
	metrics.DownloadLatency.WithLabelValues(u.Host, strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, "", &StatusError{Code: resp.StatusCode, URL: uri}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("http get %q: read body: %w", uri, err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, "", fmt.Errorf("http get %q: %w", uri, ErrBodyTooLarge)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
