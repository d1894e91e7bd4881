package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/pacing"
	"github.com/wesleyorama2/swarm/internal/rpc"
	"github.com/wesleyorama2/swarm/internal/scenario"
)

// reportTimeout bounds the final done/error call.
const reportTimeout = 30 * time.Second

// remote forwards a custom scenario's progress to the monitor.
type remote struct {
	monitor    Monitor
	scenario   string
	generation int
}

func (r remote) Tick(ctx context.Context, n int) error {
	return r.monitor.Tick(ctx, rpc.TickPayload{Scenario: r.scenario, Count: n, Generation: r.generation})
}

func (a *Agent) run(ctx context.Context, generation int, units []unit, done chan struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		a.running = false
		a.cancel = nil
		a.mu.Unlock()
	}()

	var (
		wg      sync.WaitGroup
		results = make([]*rpc.ScenarioResult, len(units))
		skipped []error
	)
	for i, u := range units {
		if u.instance == nil {
			if u.err != nil {
				skipped = append(skipped, u.err)
			}
			continue
		}
		wg.Add(1)
		go func(i int, u unit) {
			defer wg.Done()
			results[i] = a.runUnit(ctx, generation, u)
		}(i, u)
	}
	wg.Wait()

	reportCtx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	flushErr := a.recorder.Flush(reportCtx)
	if flushErr != nil {
		a.logger.Error("failed to ship measurements", zap.Error(flushErr))
	}

	result := rpc.AgentResult{AgentID: a.id, Generation: generation}
	for _, r := range results {
		if r != nil {
			result.Scenarios = append(result.Scenarios, *r)
		}
	}

	if len(result.Scenarios) == 0 {
		if len(skipped) == 0 {
			skipped = append(skipped, errors.New("no scenario was set up on this agent"))
		}
		if flushErr != nil {
			skipped = append(skipped, flushErr)
		}
		report := rpc.ErrorReport{AgentID: a.id, Generation: generation, Errors: rpc.Strings(skipped)}
		if err := a.monitor.Error(reportCtx, report); err != nil {
			a.logger.Error("failed to report error", zap.Error(err))
		}
		return
	}

	if err := a.monitor.Done(reportCtx, result); err != nil {
		a.logger.Error("failed to report done", zap.Error(err))
	}
	a.logger.Info("run finished",
		zap.Int("generation", generation),
		zap.Int("scenarios", len(result.Scenarios)),
		zap.Int("errors", result.ErrorCount()))
}

func (a *Agent) runUnit(ctx context.Context, generation int, u unit) *rpc.ScenarioResult {
	name := u.schema.Scenario
	plan := u.schema.Execution

	if plan.TickExecutionStrategy == config.StrategyCustom {
		if runner, ok := u.instance.(scenario.CustomRunner); ok {
			start := time.Now()
			executed, errs := runner.Custom(ctx, remote{monitor: a.monitor, scenario: name, generation: generation}, plan.TotalExecutions())
			a.executions.Add(executed)
			a.failures.Add(int64(len(errs)))
			return &rpc.ScenarioResult{
				Name:       name,
				Executions: executed,
				ElapsedMS:  time.Since(start).Milliseconds(),
				Errors:     rpc.Strings(errs),
			}
		}
		a.logger.Warn("scenario has no custom runner, pacing it instead", zap.String("scenario", name))
	}

	res := a.driver.Run(ctx, pacing.Job{
		Scenario: name,
		Plan:     plan,
		Execute: func(ctx context.Context) error {
			a.executions.Add(1)
			err := u.instance.Execute(ctx)
			if err != nil {
				a.failures.Add(1)
			}
			return err
		},
		Progress: func(ctx context.Context) error {
			return a.monitor.Tick(ctx, rpc.TickPayload{Scenario: name, Count: 1, Generation: generation})
		},
	})

	return &rpc.ScenarioResult{
		Name:       name,
		Executions: res.Executions,
		ElapsedMS:  res.Elapsed.Milliseconds(),
		Errors:     rpc.Strings(res.Errors),
	}
}
