package pacing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/scenario"
)

// Job is one paced scenario run.
type Job struct {
	Scenario string
	Plan     config.ExecutionPlan

	// Execute runs one user. It is called concurrently within a step.
	Execute func(ctx context.Context) error

	// Progress is called on every iteration boundary. Its errors are logged.
	Progress func(ctx context.Context) error
}

// Result is the outcome of a paced run.
type Result struct {
	Scenario   string
	Executions int64
	Progress   int64
	Errors     []error
	Elapsed    time.Duration
}

// Driver runs jobs against a clock.
type Driver struct {
	clock  Clock
	logger *zap.Logger
}

// NewDriver creates a driver. A nil clock uses the wall clock.
func NewDriver(clock Clock, logger *zap.Logger) *Driver {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{clock: clock, logger: logger}
}

// Run paces job to completion or until ctx is cancelled.
//
// Each step's users run concurrently and the next step waits until all of
// them return. Execution errors never stop the run; each is wrapped in a
// *scenario.ScenarioExecutionError and returned in Result.Errors.
func (d *Driver) Run(ctx context.Context, job Job) Result {
	res := Result{Scenario: job.Scenario}

	if job.Plan.Delay > 0 {
		if err := d.sleep(ctx, time.Duration(job.Plan.Delay)*time.Millisecond); err != nil {
			res.Errors = append(res.Errors, err)
			return res
		}
	}

	pacer := NewPacer(job.Plan)
	start := d.clock.Now()

	for {
		step, ok := pacer.Next()
		if !ok {
			break
		}

		deadline := start.Add(time.Duration(step.Tick) * time.Millisecond)
		if err := d.sleep(ctx, deadline.Sub(d.clock.Now())); err != nil {
			res.Errors = append(res.Errors, err)
			break
		}

		if step.Users > 0 {
			errs := d.runStep(ctx, job, step)
			res.Executions += int64(step.Users)
			res.Errors = append(res.Errors, errs...)
		}

		if step.Progress {
			res.Progress++
			if job.Progress != nil {
				if err := job.Progress(ctx); err != nil {
					d.logger.Warn("failed to report progress",
						zap.String("scenario", job.Scenario),
						zap.Int64("tick", step.Tick),
						zap.Error(err))
				}
			}
		}

		if step.Done {
			break
		}
	}

	res.Elapsed = d.clock.Now().Sub(start)
	return res
}

func (d *Driver) runStep(ctx context.Context, job Job, step Step) []error {
	if step.Users == 1 {
		if err := job.Execute(ctx); err != nil {
			return []error{&scenario.ScenarioExecutionError{Scenario: job.Scenario, Tick: step.Tick, Err: err}}
		}
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < step.Users; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := job.Execute(ctx); err != nil {
				mu.Lock()
				errs = append(errs, &scenario.ScenarioExecutionError{Scenario: job.Scenario, Tick: step.Tick, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dur <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(dur):
		return nil
	}
}
