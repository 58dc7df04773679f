// Package apiclient is the JSON-over-HTTP client used for every hop between
// the bank, the PSP and the webshop. Responses are expected in the shared
// {success, data, error} envelope.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
)

const (
	DefaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

type Client struct {
	baseURL    string
	target     string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// New builds a client for one downstream service. target names it in logs
// and metrics.
func New(baseURL, target string, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: baseURL,
		target:  target,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: m,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Error is a non-success reply from the remote service. It unwraps to
// domain.ErrUpstream.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return domain.ErrUpstream }

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    *T   `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Do sends body as JSON and decodes the envelope's data into T.
func Do[T any](ctx context.Context, c *Client, method, path string, body any, headers map[string]string) (*T, error) {
	log := logging.FromContext(ctx)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("Do: marshal: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("Do: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	log.Info("outbound request sent", "target", c.target, "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveOutbound(c.target, err, time.Since(start))
		return nil, fmt.Errorf("Do: send: %w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	log.Info("outbound response received",
		"target", c.target,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.ObserveOutbound(c.target, err, time.Since(start))
		return nil, fmt.Errorf("Do: read body: %w: %v", domain.ErrUpstream, err)
	}

	var env envelope[T]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= http.StatusBadRequest || decodeErr != nil || !env.Success {
		remote := &Error{Status: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			remote.Code = env.Error.Code
			remote.Message = env.Error.Message
		} else {
			remote.Message = string(truncate(raw, 512))
		}
		c.metrics.ObserveOutbound(c.target, remote, time.Since(start))
		return nil, fmt.Errorf("Do: %s %s: %w", method, path, remote)
	}

	c.metrics.ObserveOutbound(c.target, nil, time.Since(start))
	if env.Data == nil {
		return new(T), nil
	}
	return env.Data, nil
}

// Probe issues a GET and reports whether the service answered 2xx in time.
func (c *Client) Probe(ctx context.Context, path string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.FromContext(ctx).Warn("health probe failed", "target", c.target, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
