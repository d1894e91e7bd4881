package measure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (c *collectSink) send(_ context.Context, events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, events)
	return c.err
}

func (c *collectSink) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestRecorder_BatchesAndFlushes(t *testing.T) {
	sink := &collectSink{}
	rec := NewRecorder(sink.send, 4, nil)
	rec.SetGeneration(2)

	now := time.Now()
	for i := 0; i < 10; i++ {
		rec.Record("op", now, now.Add(time.Millisecond))
	}

	require.NoError(t, rec.Flush(context.Background()))
	assert.Equal(t, 10, sink.total())
	assert.Len(t, sink.batches, 3, "two full batches plus the flushed remainder")
	assert.Equal(t, 2, sink.batches[0][0].Generation)
	assert.Zero(t, rec.Pending())
}

func TestRecorder_FlushReportsSinkError(t *testing.T) {
	sink := &collectSink{err: errors.New("monitor unreachable")}
	rec := NewRecorder(sink.send, 100, nil)

	rec.Record("op", time.Now(), time.Now())
	err := rec.Flush(context.Background())
	require.Error(t, err)

	// the error is reported once
	assert.NoError(t, rec.Flush(context.Background()))
}
