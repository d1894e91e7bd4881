// Package monitor implements the coordinator: it registers agents, runs the
// global scenario hooks, distributes work and collects the results.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
	"github.com/wesleyorama2/swarm/internal/rpc"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/target"
)

// DefaultHeartbeat is the agent ping interval.
const DefaultHeartbeat = time.Second

// AgentConn is the coordinator's handle on one agent.
type AgentConn interface {
	Setup(ctx context.Context, req rpc.SetupRequest) error
	Execute(ctx context.Context, req rpc.ExecuteRequest) error
	Cancel(ctx context.Context, reason string) error
	Teardown(ctx context.Context, reason string) error
	Ping(ctx context.Context, seq int64) error
}

// ConnFactory opens a handle for a registered agent.
type ConnFactory func(info rpc.AgentInfo) (AgentConn, error)

// DialRPC opens an HTTP rpc handle on the agent's advertised url.
func DialRPC(options ...rpc.ClientOption) ConnFactory {
	return func(info rpc.AgentInfo) (AgentConn, error) {
		if info.URL == "" {
			return nil, fmt.Errorf("agent %s did not advertise a url", info.ID)
		}
		return rpc.NewAgentClient(info.URL, options...), nil
	}
}

// AgentRecord is the coordinator-side state of one agent.
type AgentRecord struct {
	Info  rpc.AgentInfo
	Order int
	Conn  AgentConn `json:"-"`

	// Schemas is the agent's share of the simulation
	Schemas []config.SchemaConfig

	// SetupErrors are the scenario setup failures the agent reported
	SetupErrors []string

	Done   bool
	Lost   bool
	Result *rpc.AgentResult
	Errors []string

	// LostReason says why the agent was given up on
	LostReason string

	LastStatus json.RawMessage
}

// Options configure a Coordinator.
type Options struct {
	Simulation *config.SimulationConfig
	Registry   *scenario.Registry

	// Target is dialled once for the global hooks. Nil runs them without a
	// target connection.
	Target *target.Dialer

	Store measure.Store

	// Expected is the fleet size
	Expected int

	// Connect opens agent handles. Defaults to DialRPC().
	Connect ConnFactory

	// Heartbeat is the ping interval. Zero uses DefaultHeartbeat, negative
	// disables heartbeats.
	Heartbeat time.Duration

	// RegistrationTimeout bounds the wait for the fleet. Zero waits forever.
	RegistrationTimeout time.Duration

	// OnProgress is called after each tick with the progress so far.
	OnProgress func(done, total int64)

	Logger *zap.Logger
}

// RunResult is the outcome of one generation.
type RunResult struct {
	Generation int
	Start      time.Time
	End        time.Time
	Agents     []AgentRecord
	Errors     []string
	Failed     bool
}

// Elapsed returns the wall-clock duration of the run.
func (r *RunResult) Elapsed() time.Duration {
	return r.End.Sub(r.Start)
}

type generationRun struct {
	generation  int
	start       time.Time
	end         time.Time
	outstanding int
	failed      bool
	errors      []string
	done        chan struct{}
}

// Coordinator drives a fixed-size fleet through
// global setup, distribution, execution and teardown.
type Coordinator struct {
	sim        *config.SimulationConfig
	registry   *scenario.Registry
	target     *target.Dialer
	store      measure.Store
	expected   int
	connect    ConnFactory
	heartbeat  time.Duration
	regTimeout time.Duration
	onProgress func(done, total int64)
	logger     *zap.Logger
	created    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	agents   []*AgentRecord
	byID     map[string]*AgentRecord
	globals  []scenario.Instance
	phase    *phaseConnector
	run      *generationRun
	fatal    error
	ready    chan struct{}
	begun    bool
	shutdown bool
	hbStop   context.CancelFunc
	hbDone   chan struct{}

	// batches tracks log batches by id so a retried batch is appended once
	batchMu sync.Mutex
	batches map[string]*logAppend

	ticks         atomic.Int64
	expectedTicks atomic.Int64
	pingSeq       atomic.Int64
}

// New creates a coordinator waiting for registrations.
func New(opts Options) (*Coordinator, error) {
	if opts.Simulation == nil || len(opts.Simulation.Scenarios) == 0 {
		return nil, errors.New("simulation has no scenarios")
	}
	if opts.Registry == nil {
		return nil, errors.New("scenario registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("measurement store is required")
	}
	if opts.Expected <= 0 {
		return nil, fmt.Errorf("expected agent count must be positive, got %d", opts.Expected)
	}

	connect := opts.Connect
	if connect == nil {
		connect = DialRPC()
	}
	heartbeat := opts.Heartbeat
	if heartbeat == 0 {
		heartbeat = DefaultHeartbeat
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		sim:        opts.Simulation,
		registry:   opts.Registry,
		target:     opts.Target,
		store:      opts.Store,
		expected:   opts.Expected,
		connect:    connect,
		heartbeat:  heartbeat,
		regTimeout: opts.RegistrationTimeout,
		onProgress: opts.OnProgress,
		logger:     logger,
		created:    time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateAwaitingRegistration,
		byID:       make(map[string]*AgentRecord),
		ready:      make(chan struct{}),
		phase:      &phaseConnector{},
		batches:    make(map[string]*logAppend),
	}
	agentsRegistered.Set(0)
	return c, nil
}

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state.Terminal() || c.state == s {
		return
	}
	c.logger.Debug("state change", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

// Agents returns a copy of the agent records in registration order.
func (c *Coordinator) Agents() []AgentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyAgentsLocked()
}

func (c *Coordinator) copyAgentsLocked() []AgentRecord {
	out := make([]AgentRecord, len(c.agents))
	for i, a := range c.agents {
		out[i] = *a
		out[i].Schemas = config.CloneSchemas(a.Schemas)
		out[i].SetupErrors = append([]string(nil), a.SetupErrors...)
		out[i].Errors = append([]string(nil), a.Errors...)
	}
	return out
}

// UseStore swaps the measurement log. The optimizer calls it between
// generations, never while a run is in progress.
func (c *Coordinator) UseStore(store measure.Store) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()

	c.batchMu.Lock()
	c.batches = make(map[string]*logAppend)
	c.batchMu.Unlock()
}

// Store returns the current measurement log.
func (c *Coordinator) Store() measure.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Progress returns the ticks received and expected for the current run.
func (c *Coordinator) Progress() (done, total int64) {
	return c.ticks.Load(), c.expectedTicks.Load()
}

// Register adds an agent to the fleet.
//
// Once the fleet is full further registrations are dropped: accepted is
// false and no error is returned. The registration that fills the fleet
// starts global setup and distribution, exactly once.
func (c *Coordinator) Register(_ context.Context, info rpc.AgentInfo) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingRegistration || len(c.agents) >= c.expected {
		c.logger.Debug("dropping registration", zap.String("agent", info.ID), zap.Stringer("state", c.state))
		return false, nil
	}
	if info.ID == "" {
		info.ID = "agent-" + strconv.Itoa(len(c.agents)+1)
	}
	if _, dup := c.byID[info.ID]; dup {
		return false, fmt.Errorf("agent id %s already registered", info.ID)
	}

	rec := &AgentRecord{Info: info, Order: len(c.agents)}
	c.agents = append(c.agents, rec)
	c.byID[info.ID] = rec
	agentsRegistered.Set(float64(len(c.agents)))

	c.logger.Info("agent registered",
		zap.String("agent", info.ID),
		zap.String("hostname", info.Hostname),
		zap.Int("pid", info.PID),
		zap.Int("registered", len(c.agents)),
		zap.Int("expected", c.expected))

	if len(c.agents) == c.expected && !c.begun {
		c.begun = true
		c.setStateLocked(StateGlobalSetup)
		go c.begin()
	}
	return true, nil
}

func (c *Coordinator) begin() {
	defer close(c.ready)

	if err := c.globalSetup(c.ctx); err != nil {
		c.failLocked(err)
		return
	}

	c.setState(StateDistributing)
	c.mu.Lock()
	agents := append([]*AgentRecord(nil), c.agents...)
	c.mu.Unlock()

	plans := Assign(c.sim.Scenarios, len(agents))
	c.mu.Lock()
	for i, rec := range agents {
		rec.Schemas = plans[i]
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range agents {
		wg.Add(1)
		go func(rec *AgentRecord) {
			defer wg.Done()
			c.startAgent(c.ctx, rec)
		}(rec)
	}
	wg.Wait()

	c.startHeartbeat()
	c.startRun(c.ctx, 0, false)
}

// failLocked records a fatal error. It takes the lock itself.
func (c *Coordinator) failLocked(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal == nil {
		c.fatal = err
	}
	c.logger.Error("run failed", zap.Error(err))
	c.setStateLocked(StateFailed)
}

func (c *Coordinator) startAgent(ctx context.Context, rec *AgentRecord) {
	conn, err := c.connect(rec.Info)
	if err != nil {
		c.markLost(rec, err)
		return
	}
	c.mu.Lock()
	rec.Conn = conn
	c.mu.Unlock()

	if err := conn.Ping(ctx, c.pingSeq.Add(1)); err != nil {
		c.markLost(rec, err)
		return
	}

	err = conn.Setup(ctx, rpc.SetupRequest{
		AgentID:      rec.Info.ID,
		ResolutionMS: c.sim.Resolution,
		Simulation:   rec.Schemas,
	})
	if err == nil {
		return
	}

	var remote *rpc.RemoteError
	if errors.As(err, &remote) && !remote.Retryable() {
		msgs := remote.Errors
		if len(msgs) == 0 {
			msgs = []string{remote.Message}
		}
		c.mu.Lock()
		rec.SetupErrors = append(rec.SetupErrors, msgs...)
		c.mu.Unlock()
		c.logger.Warn("agent setup reported errors", zap.String("agent", rec.Info.ID), zap.Strings("errors", msgs))
		return
	}
	c.markLost(rec, err)
}

// startRun opens a generation and dispatches execute to every live agent.
// With override set each agent receives its schemas as plan updates.
func (c *Coordinator) startRun(ctx context.Context, generation int, override bool) *generationRun {
	c.mu.Lock()
	run := &generationRun{generation: generation, start: time.Now(), done: make(chan struct{})}
	var live []*AgentRecord
	var expectedTicks int64
	for _, rec := range c.agents {
		rec.Result = nil
		rec.Errors = nil
		if rec.Lost {
			// lost before this run started: the reason still belongs to it
			rec.Done = true
			rec.Errors = []string{rec.LostReason}
			run.errors = append(run.errors, rec.LostReason)
			run.failed = true
			continue
		}
		rec.Done = false
		live = append(live, rec)
		for _, sc := range rec.Schemas {
			expectedTicks += int64(sc.Execution.Iterations)
		}
	}
	run.outstanding = len(live)
	c.run = run
	c.ticks.Store(0)
	c.expectedTicks.Store(expectedTicks)
	c.setStateLocked(StateExecuting)
	if run.outstanding == 0 {
		c.finishLocked(run)
	}
	c.mu.Unlock()

	c.logger.Info("starting run", zap.Int("generation", generation), zap.Int("agents", len(live)))

	var wg sync.WaitGroup
	for _, rec := range live {
		req := rpc.ExecuteRequest{Generation: generation}
		if override {
			req.Simulation = config.CloneSchemas(rec.Schemas)
		}
		wg.Add(1)
		go func(rec *AgentRecord) {
			defer wg.Done()
			if err := rec.Conn.Execute(ctx, req); err != nil {
				c.markLost(rec, err)
			}
		}(rec)
	}
	wg.Wait()

	c.setState(StateAwaitingCompletion)
	return run
}

func (c *Coordinator) finishLocked(run *generationRun) {
	select {
	case <-run.done:
		return
	default:
	}
	run.end = time.Now()
	runDuration.WithLabelValues(strconv.Itoa(run.generation)).Set(run.end.Sub(run.start).Seconds())
	close(run.done)
	c.logger.Info("run complete",
		zap.Int("generation", run.generation),
		zap.Duration("elapsed", run.end.Sub(run.start)),
		zap.Bool("failed", run.failed))
}

// complete marks rec finished for the current run.
func (c *Coordinator) completeLocked(rec *AgentRecord, errs []string) {
	run := c.run
	if run == nil || rec.Done {
		return
	}
	rec.Done = true
	rec.Errors = append(rec.Errors, errs...)
	run.errors = append(run.errors, errs...)
	run.outstanding--
	if run.outstanding <= 0 {
		c.finishLocked(run)
	}
}

func (c *Coordinator) markLost(rec *AgentRecord, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.Lost {
		return
	}
	rec.Lost = true
	agentsLost.Inc()
	lost := &AgentLostError{AgentID: rec.Info.ID, Err: err}
	rec.LostReason = lost.Error()
	c.logger.Error("agent lost", zap.String("agent", rec.Info.ID), zap.Error(err))

	if c.run != nil {
		c.run.failed = true
	}
	if c.run != nil && !rec.Done {
		c.completeLocked(rec, []string{lost.Error()})
	} else {
		rec.Errors = append(rec.Errors, lost.Error())
	}
}

func (c *Coordinator) currentRun() *generationRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

func (c *Coordinator) resultLocked(run *generationRun) *RunResult {
	return &RunResult{
		Generation: run.generation,
		Start:      run.start,
		End:        run.end,
		Agents:     c.copyAgentsLocked(),
		Errors:     append([]string(nil), run.errors...),
		Failed:     run.failed,
	}
}

// Wait blocks until the fleet registered and the first run completed.
func (c *Coordinator) Wait(ctx context.Context) (*RunResult, error) {
	var timeout <-chan time.Time
	if c.regTimeout > 0 {
		timer := time.NewTimer(time.Until(c.created.Add(c.regTimeout)))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ready:
	case <-timeout:
		c.mu.Lock()
		begun := c.begun
		registered := len(c.agents)
		c.mu.Unlock()
		if !begun {
			err := &RegistrationTimeoutError{Expected: c.expected, Registered: registered, Timeout: c.regTimeout}
			c.failLocked(err)
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ready:
		}
	}

	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()
	if fatal != nil {
		return nil, fatal
	}
	return c.await(ctx, c.currentRun())
}

func (c *Coordinator) await(ctx context.Context, run *generationRun) (*RunResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-run.done:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultLocked(run), nil
}

// Rerun executes the fleet again with new plans, without a fresh setup.
// schemas must list the same scenarios in the same order as the simulation.
func (c *Coordinator) Rerun(ctx context.Context, generation int, schemas []config.SchemaConfig) (*RunResult, error) {
	c.mu.Lock()
	switch {
	case c.fatal != nil:
		c.mu.Unlock()
		return nil, c.fatal
	case c.run == nil:
		c.mu.Unlock()
		return nil, errors.New("no run has been distributed yet")
	}
	select {
	case <-c.run.done:
	default:
		c.mu.Unlock()
		return nil, errors.New("previous run is still in progress")
	}
	if c.run.failed {
		c.mu.Unlock()
		return nil, errors.New("previous run failed, refusing to re-run")
	}

	plans := Assign(schemas, len(c.agents))
	for i, rec := range c.agents {
		rec.Schemas = plans[i]
	}
	c.mu.Unlock()

	run := c.startRun(ctx, generation, true)
	return c.await(ctx, run)
}

// Shutdown stops heartbeats, has every live agent tear down its instances,
// then runs the global teardown hooks once and moves the coordinator to its
// terminal state. It returns the fatal error, if any.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		fatal := c.fatal
		c.mu.Unlock()
		return fatal
	}
	c.shutdown = true
	failed := c.fatal != nil || (c.run != nil && c.run.failed)
	if c.run != nil {
		select {
		case <-c.run.done:
		default:
			failed = true
		}
	}
	c.mu.Unlock()

	c.stopHeartbeat()
	c.teardownAgents(ctx)
	c.cancel()

	teardownErr := c.globalTeardown(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if failed || teardownErr != nil {
		if c.fatal == nil {
			switch {
			case teardownErr != nil:
				c.fatal = teardownErr
			default:
				c.fatal = errors.New("run did not complete cleanly")
			}
		}
		c.setStateLocked(StateFailed)
	} else {
		c.setStateLocked(StateStopped)
	}
	return c.fatal
}

// teardownAgents runs the per-agent teardown on every live agent and waits
// for all of them. Failures are logged; they do not fail the run.
func (c *Coordinator) teardownAgents(ctx context.Context) {
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
			if err := rec.Conn.Teardown(ctx, "fleet finished"); err != nil {
				c.logger.Warn("agent teardown failed", zap.String("agent", rec.Info.ID), zap.Error(err))
			}
		}(rec)
	}
	wg.Wait()
	if len(live) > 0 {
		c.logger.Info("agents torn down", zap.Int("agents", len(live)))
	}
}

func (c *Coordinator) globalSetup(ctx context.Context) error {
	closeFn, err := c.openPhase(ctx)
	if err != nil {
		return &GlobalSetupError{Scenario: "*", Err: err}
	}
	defer closeFn()

	var services scenario.Services
	if c.target != nil {
		services.Target = c.phase
	}

	globals := make([]scenario.Instance, 0, len(c.sim.Scenarios))
	for _, sc := range c.sim.Scenarios {
		services.Logger = c.logger.With(zap.String("scenario", sc.Scenario))
		inst, err := c.registry.Instantiate(sc, services, scenario.Runtime{AgentID: "monitor", Resolution: c.sim.Resolution})
		if err != nil {
			return &GlobalSetupError{Scenario: sc.Scenario, Err: err}
		}
		// registered before the hook runs so a partial setup is still torn down
		c.mu.Lock()
		c.globals = append(c.globals, inst)
		c.mu.Unlock()
		globals = append(globals, inst)

		if err := inst.GlobalSetup(ctx); err != nil {
			return &GlobalSetupError{Scenario: sc.Scenario, Err: err}
		}
	}
	c.logger.Info("global setup complete", zap.Int("scenarios", len(globals)))
	return nil
}

func (c *Coordinator) globalTeardown(ctx context.Context) error {
	c.mu.Lock()
	globals := c.globals
	c.globals = nil
	c.mu.Unlock()
	if len(globals) == 0 {
		return nil
	}

	closeFn, err := c.openPhase(ctx)
	if err != nil {
		return fmt.Errorf("global teardown: %w", err)
	}
	defer closeFn()

	var errs []error
	for _, inst := range globals {
		if err := inst.GlobalTeardown(ctx); err != nil {
			c.logger.Warn("global teardown failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openPhase opens the one target connection the global hooks share.
func (c *Coordinator) openPhase(ctx context.Context) (func(), error) {
	if c.target == nil {
		return func() {}, nil
	}
	shared, err := target.OpenShared(ctx, c.target)
	if err != nil {
		return nil, err
	}
	c.phase.set(shared)
	return func() {
		c.phase.set(nil)
		_ = shared.Close()
	}, nil
}

// phaseConnector points global instances at the connection of the phase
// in progress.
type phaseConnector struct {
	mu    sync.Mutex
	inner scenario.Connector
}

func (p *phaseConnector) set(inner scenario.Connector) {
	p.mu.Lock()
	p.inner = inner
	p.mu.Unlock()
}

func (p *phaseConnector) Dial(ctx context.Context) (*redis.Client, error) {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return nil, errors.New("target is only reachable during global setup and teardown")
	}
	return inner.Dial(ctx)
}

func (p *phaseConnector) Release(client *redis.Client) error {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Release(client)
}

// Abort asks every live agent to cancel its current run. The agents still
// report done for the cancelled run.
func (c *Coordinator) Abort(ctx context.Context, reason string) {
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
			if err := rec.Conn.Cancel(ctx, reason); err != nil {
				c.logger.Warn("failed to cancel agent", zap.String("agent", rec.Info.ID), zap.Error(err))
			}
		}(rec)
	}
	wg.Wait()
}
