package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wesleyorama2/swarm/internal/scenario"
)

// Queue produces and consumes messages over a Redis list at its own pace.
// It only runs under the custom tick strategy; Execute handles one message.
type Queue struct {
	scenario.Base
	sc        *scenario.Context
	client    *redis.Client
	queue     string
	tickEvery int
}

// NewQueue creates a queue instance.
func NewQueue(sc *scenario.Context) (scenario.Instance, error) {
	q := &Queue{sc: sc, queue: sc.String("queue"), tickEvery: sc.Int("tickEvery")}
	if q.tickEvery <= 0 {
		q.tickEvery = 1
	}
	return q, nil
}

func (q *Queue) Setup(ctx context.Context) error {
	client, err := dial(ctx, q.sc)
	if err != nil {
		return err
	}
	q.client = client
	return nil
}

func (q *Queue) Teardown(context.Context) error {
	if q.client == nil {
		return nil
	}
	return release(q.sc, q.client)
}

func (q *Queue) GlobalTeardown(ctx context.Context) error {
	client, err := dial(ctx, q.sc)
	if err != nil {
		return err
	}
	defer release(q.sc, client)
	return client.Del(ctx, q.queue).Err()
}

func (q *Queue) Execute(ctx context.Context) error {
	if q.client == nil {
		return errNoTarget
	}
	msg := fmt.Sprintf("%s:%d", q.sc.Runtime.AgentID, time.Now().UnixNano())
	if err := q.client.LPush(ctx, q.queue, msg).Err(); err != nil {
		return &scenario.WriteConcernError{Scenario: KindQueue, Op: "push", Err: err}
	}
	return scenario.Measure(q.sc.Services.Recorder, "queue.consume", func() error {
		err := q.client.BRPop(ctx, time.Second, q.queue).Err()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("queue %s drained by another consumer", q.queue)
		}
		return err
	})
}

// Custom consumes remaining messages back to back, reporting one progress
// tick every tickEvery messages.
func (q *Queue) Custom(ctx context.Context, remote scenario.Remote, remaining int64) (int64, []error) {
	var (
		errs     []error
		executed int64
	)
	for i := int64(1); i <= remaining; i++ {
		if ctx.Err() != nil {
			return executed, append(errs, ctx.Err())
		}
		executed++
		if err := q.Execute(ctx); err != nil {
			errs = append(errs, &scenario.ScenarioExecutionError{Scenario: KindQueue, Tick: i, Err: err})
		}
		if i%int64(q.tickEvery) == 0 || i == remaining {
			if err := remote.Tick(ctx, 1); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return executed, errs
}
