package monitor

import (
	"context"
	"sync"
	"time"
)

func (c *Coordinator) startHeartbeat() {
	if c.heartbeat < 0 {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.hbStop = cancel
	c.hbDone = done
	c.mu.Unlock()

	go c.heartbeatLoop(ctx, done)
}

func (c *Coordinator) stopHeartbeat() {
	c.mu.Lock()
	stop, done := c.hbStop, c.hbDone
	c.hbStop, c.hbDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

// heartbeatLoop pings every live agent once per interval. An agent whose
// ping fails after the client's retries is marked lost.
func (c *Coordinator) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		var live []*AgentRecord
		for _, rec := range c.agents {
			if !rec.Lost && rec.Conn != nil {
				live = append(live, rec)
			}
		}
		c.mu.Unlock()

		var wg sync.WaitGroup
		for _, rec := range live {
			wg.Add(1)
			go func(rec *AgentRecord) {
				defer wg.Done()
				if err := rec.Conn.Ping(ctx, c.pingSeq.Add(1)); err != nil && ctx.Err() == nil {
					c.markLost(rec, err)
				}
			}(rec)
		}
		wg.Wait()
	}
}
