// Package remote is the shared HTTP plumbing of the X and CoinGecko clients: a pooled
// transport, a circuit breaker per service and JSON request helpers. Nothing is retried.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	logx "xbot/pkg/logx"
)

const maxErrorBody = 512

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Service string
	Method  string
	Path    string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s %s: status %d", e.Service, e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s: %s %s: status %d: %s", e.Service, e.Method, e.Path, e.Code, e.Body)
}

// Temporary reports whether the failure says something about the service's health
// (5xx or 429) rather than about the request.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// NewHTTPClient returns a pooled client with the given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return c
}

type Options struct {
	Service string
	BaseURL string
	Timeout time.Duration
	Header  http.Header
	// HTTP overrides the pooled client (tests).
	HTTP *http.Client
	// Breaker may be nil to disable circuit breaking.
	Breaker *Breaker
}

// Client issues JSON requests against one base URL.
type Client struct {
	service string
	base    *url.URL
	http    *http.Client
	header  http.Header
	br      *Breaker
	log     logx.Logger
}

func New(opts Options, log logx.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: %s: invalid base url %q", opts.Service, opts.BaseURL)
	}
	hc := opts.HTTP
	if hc == nil {
		hc = NewHTTPClient(opts.Timeout)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	h := opts.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &Client{service: opts.Service, base: u, http: hc, header: h, br: opts.Breaker, log: log}, nil
}

// DoJSON sends body (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := func() error { return c.do(ctx, method, path, query, body, out) }
	if c.br == nil {
		return op()
	}
	return c.br.Do(op)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode %s: %w", c.service, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.service, err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %s %s: %w", c.service, method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("remote call",
		logx.String("service", c.service),
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Service: c.service,
			Method:  method,
			Path:    path,
			Code:    resp.StatusCode,
			Body:    strings.TrimSpace(string(b)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode %s: %w", c.service, path, err)
	}
	return nil
}
