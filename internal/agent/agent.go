// Package agent implements the worker process: it hosts scenario instances,
// paces their executions and reports back to the monitor.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
	"github.com/wesleyorama2/swarm/internal/pacing"
	"github.com/wesleyorama2/swarm/internal/rpc"
	"github.com/wesleyorama2/swarm/internal/scenario"
)

// ErrRunInProgress is returned by Execute while a run is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Monitor is the agent's view of the monitor.
type Monitor interface {
	Log(ctx context.Context, events []measure.Event) error
	Tick(ctx context.Context, payload rpc.TickPayload) error
	Done(ctx context.Context, result rpc.AgentResult) error
	Error(ctx context.Context, report rpc.ErrorReport) error
}

// Options configure an Agent.
type Options struct {
	ID       string
	Registry *scenario.Registry
	Target   scenario.Connector
	Monitor  Monitor
	Clock    pacing.Clock
	Logger   *zap.Logger

	// BatchSize is the number of measurements per log call
	BatchSize int
}

type unit struct {
	schema   config.SchemaConfig
	instance scenario.Instance
	err      error
}

// Agent runs the scenarios the monitor assigns to it.
//
// Setup may be called once per fleet run; Execute may be called repeatedly
// against the same set-up instances, one run at a time.
type Agent struct {
	id       string
	registry *scenario.Registry
	target   scenario.Connector
	monitor  Monitor
	recorder *measure.Recorder
	driver   *pacing.Driver
	logger   *zap.Logger

	mu         sync.Mutex
	resolution int
	units      []*unit
	running    bool
	started    bool
	generation int
	cancel     context.CancelFunc
	runDone    chan struct{}

	executions atomic.Int64
	failures   atomic.Int64
}

// New creates an agent.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("agent", opts.ID))

	return &Agent{
		id:         opts.ID,
		registry:   opts.Registry,
		target:     opts.Target,
		monitor:    opts.Monitor,
		recorder:   measure.NewRecorder(opts.Monitor.Log, opts.BatchSize, logger),
		driver:     pacing.NewDriver(opts.Clock, logger),
		logger:     logger,
		resolution: config.DefaultResolution,
	}
}

// ID returns the agent id.
func (a *Agent) ID() string {
	return a.id
}

// Setup instantiates every scenario in req and runs their Setup hooks
// concurrently.
//
// Failures are collected into an rpc.ErrorList. Scenarios that did set up
// are kept and will run; failed ones are skipped by Execute.
func (a *Agent) Setup(ctx context.Context, req rpc.SetupRequest) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrRunInProgress
	}
	old := a.units
	a.units = nil
	a.started = false
	if req.ResolutionMS > 0 {
		a.resolution = req.ResolutionMS
	}
	resolution := a.resolution
	a.mu.Unlock()

	a.teardown(ctx, old)

	units := make([]*unit, len(req.Simulation))
	var wg sync.WaitGroup
	for i, sc := range req.Simulation {
		units[i] = &unit{schema: sc}
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			u.err = a.setupUnit(ctx, u, resolution)
		}(units[i])
	}
	wg.Wait()

	var errs rpc.ErrorList
	for _, u := range units {
		if u.err != nil {
			a.logger.Error("scenario setup failed", zap.String("scenario", u.schema.Scenario), zap.Error(u.err))
			errs = append(errs, u.err)
		}
	}

	a.mu.Lock()
	a.units = units
	a.mu.Unlock()

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (a *Agent) setupUnit(ctx context.Context, u *unit, resolution int) error {
	if u.schema.Execution.Resolution <= 0 {
		u.schema.Execution.Resolution = resolution
	}
	services := scenario.Services{
		Target:   a.target,
		Recorder: a.recorder,
		Logger:   a.logger.With(zap.String("scenario", u.schema.Scenario)),
	}
	runtime := scenario.Runtime{AgentID: a.id, Resolution: resolution}

	inst, err := a.registry.Instantiate(u.schema, services, runtime)
	if err != nil {
		return err
	}
	if err := inst.Setup(ctx); err != nil {
		return fmt.Errorf("setup of %s failed: %w", u.schema.Scenario, err)
	}
	u.instance = inst
	return nil
}

// Execute starts a run of every set-up scenario and returns immediately.
// The outcome is reported to the monitor with Done, or Error when nothing
// could run.
//
// A repeated request for the generation already started is acknowledged
// without starting it again, so a retried call is harmless.
func (a *Agent) Execute(_ context.Context, req rpc.ExecuteRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started && req.Generation == a.generation {
		a.logger.Debug("generation already started", zap.Int("generation", req.Generation))
		return nil
	}
	if a.running {
		return ErrRunInProgress
	}

	for i, sc := range req.Simulation {
		if i < len(a.units) && a.units[i].schema.Scenario == sc.Scenario {
			plan := sc.Execution
			if plan.Resolution <= 0 {
				plan.Resolution = a.units[i].schema.Execution.Resolution
			}
			a.units[i].schema.Execution = plan
		}
	}

	a.running = true
	a.started = true
	a.generation = req.Generation
	a.recorder.SetGeneration(req.Generation)

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.runDone = make(chan struct{})

	units := make([]unit, len(a.units))
	for i, u := range a.units {
		units[i] = *u
	}
	go a.run(ctx, req.Generation, units, a.runDone)
	return nil
}

// Cancel stops the in-flight run, if any. The run still reports Done with
// what it managed to execute.
func (a *Agent) Cancel(_ context.Context, req rpc.CancelRequest) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		a.logger.Info("cancelling run", zap.String("reason", req.Reason))
		cancel()
	}
	return nil
}

// Ping is a liveness no-op.
func (a *Agent) Ping(context.Context, rpc.PingRequest) error {
	return nil
}

// Wait blocks until the current run, if any, has reported its outcome.
func (a *Agent) Wait() {
	a.mu.Lock()
	done := a.runDone
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Teardown cancels any run, waits for it to report and tears down every
// set-up instance. The agent keeps serving; the next run needs a new Setup.
func (a *Agent) Teardown(ctx context.Context, req rpc.TeardownRequest) error {
	_ = a.Cancel(ctx, rpc.CancelRequest{Reason: req.Reason})
	a.Wait()

	a.mu.Lock()
	units := a.units
	a.units = nil
	a.started = false
	a.mu.Unlock()

	if len(units) > 0 {
		a.logger.Info("tearing down scenarios", zap.Int("scenarios", len(units)), zap.String("reason", req.Reason))
	}
	return a.teardown(ctx, units)
}

// Close tears down whatever is still set up. It is safe after Teardown.
func (a *Agent) Close(ctx context.Context) error {
	return a.Teardown(ctx, rpc.TeardownRequest{Reason: "shutdown"})
}

func (a *Agent) teardown(ctx context.Context, units []*unit) error {
	var errs []error
	for _, u := range units {
		if u.instance == nil {
			continue
		}
		if err := u.instance.Teardown(ctx); err != nil {
			a.logger.Warn("scenario teardown failed", zap.String("scenario", u.schema.Scenario), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot is the operations snapshot sent with status.
type Snapshot struct {
	AgentID    string    `json:"agentId"`
	Generation int       `json:"generation"`
	Running    bool      `json:"running"`
	Executions int64     `json:"executions"`
	Errors     int64     `json:"errors"`
	Pending    int       `json:"pendingMeasurements"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot returns the current counters.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		AgentID:    a.id,
		Generation: a.generation,
		Running:    a.running,
		Executions: a.executions.Load(),
		Errors:     a.failures.Load(),
		Pending:    a.recorder.Pending(),
		Timestamp:  time.Now(),
	}
}
