// Package topology samples the target system's status on an interval while a
// run is in progress. It is best-effort telemetry: probe failures are logged
// and skipped, never surfaced to the run.
package topology

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topology shapes.
const (
	KindSingle  = "single"
	KindReplSet = "replset"
)

// DefaultInterval is the probe interval.
const DefaultInterval = time.Second

// Sample is one status probe of one server.
type Sample struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	Server    string            `json:"server"`
	Timestamp time.Time         `json:"timestamp"`
	RawStatus map[string]string `json:"rawStatus"`
}

// Shape is the discovered topology.
type Shape struct {
	Kind    string
	Servers []string
}

// Prober talks to the target system.
type Prober interface {
	// Discover runs once at startup.
	Discover(ctx context.Context) (Shape, error)

	// Probe returns the raw status of one server.
	Probe(ctx context.Context, server string) (map[string]string, error)

	Close() error
}

// Monitor probes every server of a shape on an interval.
type Monitor struct {
	name     string
	prober   Prober
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a monitor. interval <= 0 uses DefaultInterval.
func NewMonitor(name string, prober Prober, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{name: name, prober: prober, interval: interval, logger: logger.With(zap.String("topology", name))}
}

// Start discovers the shape and streams samples until ctx is done. The
// channel is closed when the monitor stops. A failed discovery is returned
// and nothing is started.
func (m *Monitor) Start(ctx context.Context) (<-chan Sample, error) {
	shape, err := m.prober.Discover(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Info("topology discovered", zap.String("kind", shape.Kind), zap.Strings("servers", shape.Servers))

	out := make(chan Sample, 64)
	go m.loop(ctx, shape, out)
	return out, nil
}

func (m *Monitor) loop(ctx context.Context, shape Shape, out chan<- Sample) {
	defer close(out)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, server := range shape.Servers {
			status, err := m.prober.Probe(ctx, server)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("status probe failed", zap.String("server", server), zap.Error(err))
				}
				continue
			}
			sample := Sample{Name: m.name, Kind: shape.Kind, Server: server, Timestamp: time.Now(), RawStatus: status}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Key identifies one sample series.
type Key struct {
	Name   string
	Server string
}

// Buffer keeps samples in memory keyed by {name, server}.
type Buffer struct {
	mu      sync.Mutex
	samples map[Key][]Sample
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{samples: make(map[Key][]Sample)}
}

// Add appends one sample.
func (b *Buffer) Add(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := Key{Name: s.Name, Server: s.Server}
	b.samples[k] = append(b.samples[k], s)
}

// Collect drains ch into the buffer. The returned channel is closed once ch is.
func (b *Buffer) Collect(ch <-chan Sample) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range ch {
			b.Add(s)
		}
	}()
	return done
}

// Keys returns the buffered series sorted by name then server.
func (b *Buffer) Keys() []Key {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]Key, 0, len(b.samples))
	for k := range b.samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Server < keys[j].Server
	})
	return keys
}

// Samples returns a copy of one series.
func (b *Buffer) Samples(k Key) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sample(nil), b.samples[k]...)
}

// Len returns the total number of samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.samples {
		n += len(s)
	}
	return n
}
