package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client calls the methods of one peer.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	attempts   int
	backoff    Backoff
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithAttempts sets how many times a call is tried. Values below 1 mean 1.
func WithAttempts(n int) ClientOption {
	return func(c *Client) {
		if n < 1 {
			n = 1
		}
		c.attempts = n
	}
}

// WithBackoff sets the wait between attempts.
func WithBackoff(b Backoff) ClientOption {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the peer at baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    10 * time.Second,
		attempts:   3,
		backoff:    DefaultBackoff(),
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// BaseURL returns the peer address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call posts in to method and decodes the reply into out (which may be nil).
//
// Transport failures and 5xx replies are retried with backoff up to the
// configured attempts. Other failure replies return a *RemoteError at once.
func (c *Client) Call(ctx context.Context, method string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("rpc %s: failed to encode request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff.Next(attempt - 1)
			c.logger.Debug("retrying rpc",
				zap.String("method", method),
				zap.String("peer", c.baseURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		lastErr = c.do(ctx, method, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		var remote *RemoteError
		if errors.As(lastErr, &remote) && !remote.Retryable() {
			return lastErr
		}
	}
	return fmt.Errorf("rpc %s to %s failed after %d attempts: %w", method, c.baseURL, c.attempts, lastErr)
}

func (c *Client) do(ctx context.Context, method string, body []byte, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rpc %s: failed to read reply: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remote := &RemoteError{Method: method, Status: resp.StatusCode, Message: resp.Status}
		var eb ErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			remote.Message = eb.Error
			remote.Errors = eb.Errors
		}
		return remote
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("rpc %s: failed to decode reply: %w", method, err)
	}
	return nil
}
