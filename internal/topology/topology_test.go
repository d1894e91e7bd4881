package topology

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	shape    Shape
	discover error
	failOn   string
	failures atomic.Int32
}

func (f *fakeProber) Discover(context.Context) (Shape, error) {
	return f.shape, f.discover
}

func (f *fakeProber) Probe(_ context.Context, server string) (map[string]string, error) {
	// every other probe of failOn times out
	if server == f.failOn && f.failures.Add(1)%2 == 1 {
		return nil, errors.New("timeout")
	}
	return map[string]string{"server": server}, nil
}

func (f *fakeProber) Close() error { return nil }

func TestMonitor_StreamsIntoBuffer(t *testing.T) {
	prober := &fakeProber{shape: Shape{Kind: KindReplSet, Servers: []string{"a:6379", "b:6379"}}, failOn: "b:6379"}
	m := NewMonitor("target", prober, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Start(ctx)
	require.NoError(t, err)

	buf := NewBuffer()
	done := buf.Collect(ch)

	require.Eventually(t, func() bool {
		return len(buf.Samples(Key{Name: "target", Server: "a:6379"})) >= 3 &&
			len(buf.Samples(Key{Name: "target", Server: "b:6379"})) >= 1
	}, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []Key{{"target", "a:6379"}, {"target", "b:6379"}}, buf.Keys())
	for _, s := range buf.Samples(Key{Name: "target", Server: "a:6379"}) {
		assert.Equal(t, KindReplSet, s.Kind)
		assert.Equal(t, "a:6379", s.RawStatus["server"])
	}
}

func TestMonitor_DiscoveryFailure(t *testing.T) {
	m := NewMonitor("target", &fakeProber{discover: errors.New("refused")}, 0, nil)
	_, err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestParseInfo(t *testing.T) {
	info := ParseInfo("# Replication\r\nrole:master\r\nconnected_slaves:2\r\n" +
		"slave0:ip=10.0.0.2,port=6379,state=online,offset=1,lag=0\r\n" +
		"slave1:ip=10.0.0.3,port=6380,state=online,offset=1,lag=1\r\n\r\n# CPU\r\nused_cpu_sys:1.5\r\n")

	assert.Equal(t, "master", info["role"])
	assert.Equal(t, "1.5", info["used_cpu_sys"])

	shape := ShapeFromInfo("10.0.0.1:6379", info)
	assert.Equal(t, KindReplSet, shape.Kind)
	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379", "10.0.0.3:6380"}, shape.Servers)
}

func TestShapeFromInfo(t *testing.T) {
	tests := []struct {
		name string
		info map[string]string
		want string
	}{
		{"standalone", map[string]string{"role": "master", "connected_slaves": "0"}, KindSingle},
		{"replica", map[string]string{"role": "slave"}, KindReplSet},
		{"no info", map[string]string{}, KindSingle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape := ShapeFromInfo("h:1", tt.info)
			assert.Equal(t, tt.want, shape.Kind)
			assert.Equal(t, []string{"h:1"}, shape.Servers)
		})
	}
}
