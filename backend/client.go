// Package backend holds the HTTP/JSON clients for the remote collaborators:
// the order API, shipping pricer, payment settings, identity service and
// the card capture provider.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 200 * time.Millisecond
	maxErrorBody        = 64 << 10
)

// Client talks JSON to one base URL. GET requests are retried on transport
// failures, 429 and 5xx; writes are sent exactly once.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
	maxRetries   int
	initialDelay time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRateLimit caps outbound requests per second. Zero disables the cap.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetries sets how many times a GET is attempted and the first backoff.
func WithRetries(attempts int, initialDelay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxRetries = attempts
		}
		if initialDelay > 0 {
			c.initialDelay = initialDelay
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{},
		logger:       zap.NewNop(),
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the base URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type requestOptions struct {
	bearer         string
	idempotencyKey string
}

func (c *Client) get(ctx context.Context, path string, out any, ro requestOptions) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.initialDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &NetworkError{Op: "GET " + path, Err: ctx.Err()}
			}
		}
		err := c.send(ctx, http.MethodGet, path, nil, out, ro)
		if err == nil || !retryable(err) {
			return err
		}
		lastErr = err
		c.logger.Debug("retrying backend request", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, path string, in, out any, ro requestOptions) error {
	return c.send(ctx, http.MethodPost, path, in, out, ro)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any, ro requestOptions) error {
	op := method + " " + path
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Op: op, Err: err}
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("backend: build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case ro.bearer != "":
		req.Header.Set("Authorization", "Bearer "+ro.bearer)
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if ro.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", ro.idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
