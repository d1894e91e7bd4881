package pacing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/scenario"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDriver_RunConservesExecutions(t *testing.T) {
	tests := []struct {
		name string
		plan config.ExecutionPlan
	}{
		{"fewer users than ticks", config.ExecutionPlan{Iterations: 2, NumberOfUsers: 3, Resolution: 1000}},
		{"more users than ticks", config.ExecutionPlan{Iterations: 2, NumberOfUsers: 2500, Resolution: 1000}},
		{"with delay", config.ExecutionPlan{Iterations: 1, NumberOfUsers: 10, Resolution: 100, Delay: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewVirtualClock(epoch)
			var calls, ticks atomic.Int64

			res := NewDriver(clock, nil).Run(context.Background(), Job{
				Scenario: "s",
				Plan:     tt.plan,
				Execute: func(context.Context) error {
					calls.Add(1)
					return nil
				},
				Progress: func(context.Context) error {
					ticks.Add(1)
					return nil
				},
			})

			assert.Equal(t, tt.plan.TotalExecutions(), calls.Load())
			assert.Equal(t, tt.plan.TotalExecutions(), res.Executions)
			assert.Equal(t, int64(tt.plan.Iterations), ticks.Load())
			assert.Empty(t, res.Errors)
			assert.Equal(t, time.Duration(tt.plan.ExpectedMillis())*time.Millisecond, res.Elapsed)

			total := time.Duration(tt.plan.ExpectedMillis()+int64(tt.plan.Delay)) * time.Millisecond
			assert.Equal(t, epoch.Add(total), clock.Now())
		})
	}
}

func TestDriver_ErrorsDoNotStopTheRun(t *testing.T) {
	// 3 iterations of 4 users; every call in the second iteration fails
	plan := config.ExecutionPlan{Iterations: 3, NumberOfUsers: 4, Resolution: 100}
	boom := errors.New("boom")
	var calls atomic.Int64

	res := NewDriver(NewVirtualClock(epoch), nil).Run(context.Background(), Job{
		Scenario: "flaky",
		Plan:     plan,
		Execute: func(context.Context) error {
			n := calls.Add(1)
			if n > 4 && n <= 8 {
				return boom
			}
			return nil
		},
	})

	assert.Equal(t, int64(12), calls.Load())
	require.Len(t, res.Errors, 4)
	for _, err := range res.Errors {
		var execErr *scenario.ScenarioExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "flaky", execErr.Scenario)
		assert.True(t, execErr.Tick > 100 && execErr.Tick <= 200, "tick %d outside second iteration", execErr.Tick)
		assert.ErrorIs(t, err, boom)
	}
}

func TestDriver_ConcurrentBatchSettlesBeforeNextStep(t *testing.T) {
	plan := config.ExecutionPlan{Iterations: 1, NumberOfUsers: 50, Resolution: 10}
	var inflight, maxInflight atomic.Int64

	res := NewDriver(NewVirtualClock(epoch), nil).Run(context.Background(), Job{
		Scenario: "batch",
		Plan:     plan,
		Execute: func(context.Context) error {
			n := inflight.Add(1)
			for {
				m := maxInflight.Load()
				if n <= m || maxInflight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inflight.Add(-1)
			return nil
		},
	})

	assert.Equal(t, int64(50), res.Executions)
	assert.LessOrEqual(t, maxInflight.Load(), int64(5), "a step runs 5 users and must settle before the next")
}

func TestDriver_ProgressErrorsAreNotCollected(t *testing.T) {
	plan := config.ExecutionPlan{Iterations: 2, NumberOfUsers: 1, Resolution: 10}

	res := NewDriver(NewVirtualClock(epoch), nil).Run(context.Background(), Job{
		Scenario: "s",
		Plan:     plan,
		Execute:  func(context.Context) error { return nil },
		Progress: func(context.Context) error { return errors.New("monitor unreachable") },
	})

	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(2), res.Progress)
}

func TestDriver_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	plan := config.ExecutionPlan{Iterations: 100, NumberOfUsers: 1, Resolution: 10}
	var calls atomic.Int64

	res := NewDriver(NewVirtualClock(epoch), nil).Run(ctx, Job{
		Scenario: "s",
		Plan:     plan,
		Execute: func(context.Context) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return nil
		},
	})

	assert.Equal(t, int64(3), calls.Load())
	require.NotEmpty(t, res.Errors)
	assert.ErrorIs(t, res.Errors[len(res.Errors)-1], context.Canceled)
}
