package builtin

import (
	"context"
	"errors"
	"time"

	"github.com/wesleyorama2/swarm/internal/scenario"
)

var errBoom = errors.New("boom")

// Sleep waits for a fixed latency per execution.
type Sleep struct {
	scenario.Base
	sc      *scenario.Context
	latency time.Duration
	fail    bool
}

// NewSleep creates a sleep instance.
func NewSleep(sc *scenario.Context) (scenario.Instance, error) {
	fail, _ := sc.Schema.Params["fail"].(bool)
	return &Sleep{sc: sc, latency: sc.Duration("latency"), fail: fail}, nil
}

func (s *Sleep) Execute(ctx context.Context) error {
	return scenario.Measure(s.sc.Services.Recorder, "sleep", func() error {
		if s.latency > 0 {
			t := time.NewTimer(s.latency)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
		if s.fail {
			return errBoom
		}
		return nil
	})
}
