package topology

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisProber reads INFO from a Redis primary and, when it has replicas,
// from each replica too.
type RedisProber struct {
	opts    *redis.Options
	primary *redis.Client

	mu      sync.Mutex
	clients map[string]*redis.Client
}

// NewRedisProber creates a prober for the server described by opts.
func NewRedisProber(opts *redis.Options) *RedisProber {
	primary := redis.NewClient(opts)
	return &RedisProber{
		opts:    opts,
		primary: primary,
		clients: map[string]*redis.Client{opts.Addr: primary},
	}
}

// Discover reads INFO replication once and lists the primary followed by
// its replicas.
func (p *RedisProber) Discover(ctx context.Context) (Shape, error) {
	text, err := p.primary.Info(ctx, "replication").Result()
	if err != nil {
		return Shape{}, fmt.Errorf("failed to discover topology: %w", err)
	}
	return ShapeFromInfo(p.opts.Addr, ParseInfo(text)), nil
}

// Probe reads the full INFO of server.
func (p *RedisProber) Probe(ctx context.Context, server string) (map[string]string, error) {
	text, err := p.client(server).Info(ctx).Result()
	if err != nil {
		return nil, err
	}
	return ParseInfo(text), nil
}

func (p *RedisProber) client(server string) *redis.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[server]; ok {
		return c
	}
	opts := *p.opts
	opts.Addr = server
	c := redis.NewClient(&opts)
	p.clients[server] = c
	return c
}

// Close closes every client the prober opened.
func (p *RedisProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for addr, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
	}
	p.clients = map[string]*redis.Client{}
	return errors.Join(errs...)
}

// ParseInfo turns INFO output into key/value pairs. Section headers and
// blank lines are skipped.
func ParseInfo(text string) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// ShapeFromInfo derives the shape from INFO replication fields. A server
// with connected replicas is a replset; its replicas are read from the
// slaveN entries (ip=...,port=...,state=...).
func ShapeFromInfo(addr string, info map[string]string) Shape {
	n, _ := strconv.Atoi(info["connected_slaves"])
	if info["role"] != "master" || n == 0 {
		if info["role"] == "slave" {
			return Shape{Kind: KindReplSet, Servers: []string{addr}}
		}
		return Shape{Kind: KindSingle, Servers: []string{addr}}
	}

	servers := []string{addr}
	for i := 0; i < n; i++ {
		entry, ok := info["slave"+strconv.Itoa(i)]
		if !ok {
			continue
		}
		var ip, port string
		for _, field := range strings.Split(entry, ",") {
			k, v, _ := strings.Cut(field, "=")
			switch k {
			case "ip":
				ip = v
			case "port":
				port = v
			}
		}
		if ip != "" && port != "" {
			servers = append(servers, net.JoinHostPort(ip, port))
		}
	}
	return Shape{Kind: KindReplSet, Servers: servers}
}
