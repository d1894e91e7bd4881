// Package target connects to the system under test.
package target

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultURL is used when no target url is configured.
const DefaultURL = "redis://localhost:6379/0"

// Dialer opens connections to the target system.
type Dialer struct {
	URL         string
	DialTimeout time.Duration
}

// NewDialer creates a dialer for url.
func NewDialer(url string) *Dialer {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	return &Dialer{URL: url, DialTimeout: 5 * time.Second}
}

// Options parses the dialer url into client options.
func (d *Dialer) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid target url %q: %w", d.URL, err)
	}
	if d.DialTimeout > 0 {
		opts.DialTimeout = d.DialTimeout
	}
	return opts, nil
}

// Dial opens a client and verifies it with PING.
func (d *Dialer) Dial(ctx context.Context) (*redis.Client, error) {
	opts, err := d.Options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach target %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Addr returns the host:port the dialer points at, or the raw url if unparsable.
func (d *Dialer) Addr() string {
	opts, err := d.Options()
	if err != nil {
		return d.URL
	}
	return opts.Addr
}

// Release closes a client returned by Dial.
func (d *Dialer) Release(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// Shared hands out one already-open client. Release is a no-op; the owner
// closes the client with Close once every user is done.
type Shared struct {
	client *redis.Client
}

// OpenShared dials d once and wraps the client.
func OpenShared(ctx context.Context, d *Dialer) (*Shared, error) {
	client, err := d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Shared{client: client}, nil
}

// Dial returns the shared client.
func (s *Shared) Dial(context.Context) (*redis.Client, error) {
	return s.client, nil
}

// Release is a no-op.
func (s *Shared) Release(*redis.Client) error {
	return nil
}

// Close closes the shared client.
func (s *Shared) Close() error {
	return s.client.Close()
}
