package measure

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBatchSize is the number of events buffered before a batch is shipped.
const DefaultBatchSize = 500

// Sink receives full batches. On agents it is the monitor's log RPC.
type Sink func(ctx context.Context, events []Event) error

// Recorder buffers events and ships them to a Sink in batches.
//
// Record never blocks on the sink: full batches are shipped from their own
// goroutine. Flush must not run concurrently with Record.
type Recorder struct {
	sink      Sink
	batchSize int
	logger    *zap.Logger

	mu         sync.Mutex
	buf        []Event
	generation int
	err        error

	inflight sync.WaitGroup
}

// NewRecorder creates a recorder. batchSize <= 0 uses DefaultBatchSize.
func NewRecorder(sink Sink, batchSize int, logger *zap.Logger) *Recorder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		sink:      sink,
		batchSize: batchSize,
		logger:    logger,
	}
}

// SetGeneration stamps subsequent events with generation.
func (r *Recorder) SetGeneration(generation int) {
	r.mu.Lock()
	r.generation = generation
	r.mu.Unlock()
}

// Record buffers one measurement.
func (r *Recorder) Record(tag string, start, end time.Time) {
	ev := NewEvent(tag, start, end)

	r.mu.Lock()
	ev.Generation = r.generation
	r.buf = append(r.buf, ev)
	var batch []Event
	if len(r.buf) >= r.batchSize {
		batch = r.buf
		r.buf = nil
	}
	r.mu.Unlock()

	if batch != nil {
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.ship(context.Background(), batch)
		}()
	}
}

// Flush waits for in-flight batches, ships what is buffered and returns the
// first shipping error seen since the previous Flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.inflight.Wait()

	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) > 0 {
		r.ship(ctx, batch)
	}

	r.mu.Lock()
	err := r.err
	r.err = nil
	r.mu.Unlock()
	return err
}

// Pending returns the number of buffered, unshipped events.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

func (r *Recorder) ship(ctx context.Context, batch []Event) {
	if r.sink == nil {
		return
	}
	if err := r.sink(ctx, batch); err != nil {
		r.logger.Warn("failed to ship measurements", zap.Int("events", len(batch)), zap.Error(err))
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
}
