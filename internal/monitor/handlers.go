package monitor

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/rpc"
)

// statusFields are the snapshot fields exported as metrics.
var statusFields = []string{"executions", "errors", "pendingMeasurements", "generation"}

// Router serves the coordinator's rpc methods and /metrics.
func (c *Coordinator) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	rpc.Mount(r, rpc.MethodRegister, func(ctx context.Context, info rpc.AgentInfo) (rpc.RegisterReply, error) {
		info.URL = rpc.ReachableURL(info.URL, rpc.RemoteAddr(ctx))
		accepted, err := c.Register(ctx, info)
		return rpc.RegisterReply{Accepted: accepted}, err
	})
	rpc.Mount(r, rpc.MethodLog, func(ctx context.Context, batch rpc.LogBatch) (rpc.Ack, error) {
		return rpc.Ack{OK: true}, c.Log(ctx, batch)
	})
	rpc.Mount(r, rpc.MethodTick, func(ctx context.Context, p rpc.TickPayload) (rpc.Ack, error) {
		c.Tick(ctx, p)
		return rpc.Ack{OK: true}, nil
	})
	rpc.Mount(r, rpc.MethodDone, func(ctx context.Context, res rpc.AgentResult) (rpc.Ack, error) {
		return rpc.Ack{OK: true}, c.Done(ctx, res)
	})
	rpc.Mount(r, rpc.MethodError, func(ctx context.Context, rep rpc.ErrorReport) (rpc.Ack, error) {
		return rpc.Ack{OK: true}, c.Error(ctx, rep)
	})
	rpc.Mount(r, rpc.MethodStatus, func(ctx context.Context, rep rpc.StatusReport) (rpc.Ack, error) {
		c.Status(ctx, rep)
		return rpc.Ack{OK: true}, nil
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// logAppend is one batch id's append. done closes once err is final.
type logAppend struct {
	done chan struct{}
	err  error
}

// Log appends a batch to the measurement store. The reply is sent only after
// the write is durable.
//
// A batch carrying an id already appended is acknowledged without writing
// again. A retry arriving while the first attempt is still writing waits for
// it, and takes over if that attempt failed.
func (c *Coordinator) Log(ctx context.Context, batch rpc.LogBatch) error {
	if len(batch.Events) == 0 {
		return nil
	}
	if batch.BatchID == "" {
		return c.appendBatch(ctx, batch)
	}

	for {
		c.batchMu.Lock()
		prev, seen := c.batches[batch.BatchID]
		if !seen {
			cur := &logAppend{done: make(chan struct{})}
			c.batches[batch.BatchID] = cur
			c.batchMu.Unlock()

			cur.err = c.appendBatch(ctx, batch)
			if cur.err != nil {
				c.batchMu.Lock()
				delete(c.batches, batch.BatchID)
				c.batchMu.Unlock()
			}
			close(cur.done)
			return cur.err
		}
		c.batchMu.Unlock()

		select {
		case <-ctx.Done():
			return rpc.Unavailable(ctx.Err())
		case <-prev.done:
		}
		if prev.err == nil {
			c.logger.Debug("duplicate measurement batch", zap.String("agent", batch.AgentID), zap.String("batch", batch.BatchID))
			return nil
		}
	}
}

func (c *Coordinator) appendBatch(ctx context.Context, batch rpc.LogBatch) error {
	if err := c.Store().Append(ctx, batch.Events); err != nil {
		c.logger.Error("failed to append measurements", zap.String("agent", batch.AgentID), zap.Error(err))
		return rpc.Unavailable(err)
	}
	measurementsTotal.Add(float64(len(batch.Events)))
	return nil
}

// Tick counts progress.
func (c *Coordinator) Tick(_ context.Context, p rpc.TickPayload) {
	n := p.Count
	if n <= 0 {
		n = 1
	}
	ticksTotal.WithLabelValues(p.Scenario).Add(float64(n))
	done := c.ticks.Add(int64(n))
	if c.onProgress != nil {
		c.onProgress(done, c.expectedTicks.Load())
	}
}

// Done records an agent's completed run.
func (c *Coordinator) Done(_ context.Context, res rpc.AgentResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byID[res.AgentID]
	if !ok {
		return fmt.Errorf("unknown agent %s", res.AgentID)
	}
	if c.run == nil || res.Generation != c.run.generation {
		c.logger.Warn("ignoring stale done", zap.String("agent", res.AgentID), zap.Int("generation", res.Generation))
		return nil
	}

	var errs []string
	for _, s := range res.Scenarios {
		for _, e := range s.Errors {
			errs = append(errs, s.Name+": "+e)
		}
	}
	if len(errs) > 0 {
		agentErrorsTotal.WithLabelValues(res.AgentID).Add(float64(len(errs)))
	}

	result := res
	rec.Result = &result
	c.completeLocked(rec, errs)
	return nil
}

// Error records an agent that could not run. It counts as finished.
func (c *Coordinator) Error(_ context.Context, rep rpc.ErrorReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byID[rep.AgentID]
	if !ok {
		return fmt.Errorf("unknown agent %s", rep.AgentID)
	}
	if c.run == nil || rep.Generation != c.run.generation {
		return nil
	}
	agentErrorsTotal.WithLabelValues(rep.AgentID).Add(float64(len(rep.Errors)))
	c.logger.Warn("agent reported errors", zap.String("agent", rep.AgentID), zap.Strings("errors", rep.Errors))
	c.completeLocked(rec, rep.Errors)
	return nil
}

// Status keeps an agent's last snapshot and exports its numeric fields.
func (c *Coordinator) Status(_ context.Context, rep rpc.StatusReport) {
	c.mu.Lock()
	if rec, ok := c.byID[rep.AgentID]; ok {
		rec.LastStatus = append([]byte(nil), rep.Snapshot...)
	}
	c.mu.Unlock()

	values := gjson.GetManyBytes(rep.Snapshot, statusFields...)
	for i, v := range values {
		if v.Type == gjson.Number {
			agentStatus.WithLabelValues(rep.AgentID, statusFields[i]).Set(v.Float())
		}
	}
}
