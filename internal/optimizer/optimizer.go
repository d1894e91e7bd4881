// Package optimizer wraps fleet runs in a feedback loop that scales each
// scenario's user count until the run hits its time or latency target.
//
// # Modes
//
// total-time compares the wall-clock duration of a run with the duration the
// plans ask for (iterations × resolution, plus delay). A run that took longer
// than planned means the fleet could not keep up, so users are scaled by
// expected/actual.
//
// latency reads back the generation's measurements, computes the configured
// percentile for one tag and scales users by target/observed.
//
// # Generations
//
// Every generation is a full fleet re-run against a fresh measurement store
// (measurements-<generation>.db). The loop stops after MaxGenerations runs
// and reports OutcomeNotConverged instead of looping forever.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/monitor"
)

// Mode selects what the optimizer converges on.
type Mode string

const (
	ModeTotalTime Mode = "total-time"
	ModeLatency   Mode = "latency"
)

// Outcome is the final state of an optimization.
type Outcome string

const (
	OutcomeConverged    Outcome = "converged"
	OutcomeNotConverged Outcome = "not-converged"
)

// Defaults.
const (
	DefaultMargin         = 10.0
	DefaultPercentile     = "p95"
	DefaultMaxGenerations = 10

	// ConfigFile is written to the output directory on convergence.
	ConfigFile = "optimized.yaml"
)

// Runner re-runs the fleet. *monitor.Coordinator implements it.
type Runner interface {
	Rerun(ctx context.Context, generation int, schemas []config.SchemaConfig) (*monitor.RunResult, error)
	UseStore(store measure.Store)
}

// OpenStore opens the measurement store of a generation.
type OpenStore func(generation int) (measure.Store, error)

// RecreateIn returns an OpenStore that deletes and recreates
// measurements-<generation>.db under dir.
func RecreateIn(dir string) OpenStore {
	return func(generation int) (measure.Store, error) {
		return measure.Recreate(measure.GenerationPath(dir, generation))
	}
}

// Options configure an Optimizer.
type Options struct {
	Mode Mode

	// Margin is the accepted deviation from the target, in percent
	Margin float64

	// Percentile is the statistic compared in latency mode (p75, p95, p99...)
	Percentile string

	// LatencyTarget is the latency goal in milliseconds
	LatencyTarget float64

	// Scenario is the measurement tag used in latency mode. Empty uses the
	// first tag recorded.
	Scenario string

	// MaxGenerations bounds the number of runs, including the first one
	MaxGenerations int

	// OutputDir receives optimized.yaml
	OutputDir string

	// OpenStore defaults to RecreateIn(OutputDir)
	OpenStore OpenStore

	Logger *zap.Logger
}

// GenerationSummary describes one evaluated run.
type GenerationSummary struct {
	Generation  int     `json:"generation"`
	Users       []int   `json:"users"`
	Observed    float64 `json:"observed"`
	Target      float64 `json:"target"`
	ScaleFactor float64 `json:"scaleFactor"`
	Within      bool    `json:"within"`
}

// Result is the outcome of Run.
type Result struct {
	Outcome     Outcome               `json:"outcome"`
	Mode        Mode                  `json:"mode"`
	Generations []GenerationSummary   `json:"generations"`
	Schemas     []config.SchemaConfig `json:"-"`
	ConfigPath  string                `json:"configPath,omitempty"`

	// Last is the final run and Store holds its measurements
	Last  *monitor.RunResult `json:"-"`
	Store measure.Store      `json:"-"`
}

// Optimizer drives generations through a Runner.
type Optimizer struct {
	runner Runner
	opts   Options
	logger *zap.Logger
}

// Validate checks the mode, target and percentile.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeTotalTime:
	case ModeLatency:
		if o.LatencyTarget <= 0 {
			return fmt.Errorf("latency mode needs a positive latency target, got %v", o.LatencyTarget)
		}
	default:
		return fmt.Errorf("unknown optimize mode: %q", o.Mode)
	}
	if o.Percentile != "" {
		if _, err := (metrics.Stats{}).Value(o.Percentile); err != nil {
			return err
		}
	}
	return nil
}

// New validates opts and creates an optimizer.
func New(runner Runner, opts Options) (*Optimizer, error) {
	if runner == nil {
		return nil, errors.New("optimizer needs a runner")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	if opts.Percentile == "" {
		opts.Percentile = DefaultPercentile
	}
	if opts.MaxGenerations <= 0 {
		opts.MaxGenerations = DefaultMaxGenerations
	}
	if opts.OpenStore == nil {
		opts.OpenStore = RecreateIn(opts.OutputDir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{runner: runner, opts: opts, logger: logger}, nil
}

// Run evaluates first, the already completed initial run whose measurements
// are in store, and re-runs the fleet until the target is met or the
// generation bound is reached.
//
// A failed run aborts the optimization with an error.
func (o *Optimizer) Run(ctx context.Context, sim *config.SimulationConfig, first *monitor.RunResult, store measure.Store) (*Result, error) {
	res := &Result{
		Outcome: OutcomeNotConverged,
		Mode:    o.opts.Mode,
		Schemas: config.CloneSchemas(sim.Scenarios),
		Last:    first,
		Store:   store,
	}

	run := first
	for count := 1; ; count++ {
		if run.Failed {
			return res, fmt.Errorf("generation %d failed, optimization aborted", run.Generation)
		}

		summary, err := o.evaluate(ctx, res.Schemas, run, res.Store)
		if err != nil {
			return res, fmt.Errorf("generation %d: %w", run.Generation, err)
		}
		res.Generations = append(res.Generations, summary)
		generationGauge.Set(float64(run.Generation))
		o.logger.Info("generation evaluated",
			zap.Int("generation", summary.Generation),
			zap.Ints("users", summary.Users),
			zap.Float64("observed", summary.Observed),
			zap.Float64("target", summary.Target),
			zap.Bool("within", summary.Within))

		if summary.Within {
			res.Outcome = OutcomeConverged
			path, err := o.persist(sim, res.Schemas)
			if err != nil {
				return res, err
			}
			res.ConfigPath = path
			return res, nil
		}
		if count >= o.opts.MaxGenerations {
			o.logger.Warn("optimizer did not converge", zap.Int("generations", count))
			return res, nil
		}

		next, changed := Scale(res.Schemas, summary.ScaleFactor)
		if !changed {
			o.logger.Warn("scaling no longer changes the plans, stopping", zap.Float64("scale", summary.ScaleFactor))
			return res, nil
		}
		res.Schemas = next

		generation := run.Generation + 1
		fresh, err := o.opts.OpenStore(generation)
		if err != nil {
			return res, fmt.Errorf("failed to reset measurement store: %w", err)
		}
		o.runner.UseStore(fresh)
		if res.Store != nil {
			if err := res.Store.Close(); err != nil {
				o.logger.Warn("failed to close previous measurement store", zap.Error(err))
			}
		}
		res.Store = fresh

		run, err = o.runner.Rerun(ctx, generation, config.CloneSchemas(res.Schemas))
		if err != nil {
			return res, fmt.Errorf("generation %d: %w", generation, err)
		}
		res.Last = run
	}
}

func (o *Optimizer) evaluate(ctx context.Context, schemas []config.SchemaConfig, run *monitor.RunResult, store measure.Store) (GenerationSummary, error) {
	summary := GenerationSummary{Generation: run.Generation, Users: users(schemas)}

	switch o.opts.Mode {
	case ModeTotalTime:
		summary.Target = float64(ExpectedDuration(schemas).Milliseconds())
		summary.Observed = float64(run.Elapsed().Milliseconds())
		if summary.Observed <= 0 {
			return summary, errors.New("run reported no elapsed time")
		}
		summary.ScaleFactor = summary.Target / summary.Observed
	case ModeLatency:
		value, err := o.latency(ctx, store)
		if err != nil {
			return summary, err
		}
		summary.Target = o.opts.LatencyTarget
		summary.Observed = value
		if value <= 0 {
			// sub-resolution latency, the fleet has headroom
			summary.ScaleFactor = 2
		} else {
			summary.ScaleFactor = o.opts.LatencyTarget / value
		}
	}
	summary.Within = Within(summary.Observed, summary.Target, o.opts.Margin)
	return summary, nil
}

func (o *Optimizer) latency(ctx context.Context, store measure.Store) (float64, error) {
	if store == nil {
		return 0, errors.New("no measurement store")
	}
	events, err := store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read measurements: %w", err)
	}
	agg := metrics.NewAggregator()
	for _, ev := range events {
		agg.Record(ev.Tag, ev.ElapsedMicros)
	}

	tag := o.opts.Scenario
	if tag == "" {
		tags := agg.Tags()
		if len(tags) == 0 {
			return 0, errors.New("no measurements were recorded")
		}
		tag = tags[0]
	}
	stats, ok := agg.Stats(tag)
	if !ok {
		return 0, fmt.Errorf("no measurements for %s", tag)
	}
	return stats.Value(o.opts.Percentile)
}

func (o *Optimizer) persist(sim *config.SimulationConfig, schemas []config.SchemaConfig) (string, error) {
	out := *sim
	out.Scenarios = config.CloneSchemas(schemas)
	path := filepath.Join(o.opts.OutputDir, ConfigFile)
	if err := config.WriteConfig(path, &out); err != nil {
		return "", err
	}
	o.logger.Info("optimized simulation written", zap.String("path", path))
	return path, nil
}

// Within reports whether observed is inside target ± margin percent.
func Within(observed, target, margin float64) bool {
	return math.Abs(observed-target) <= target*margin/100
}

// ExpectedDuration is the longest planned scenario duration, delay included.
func ExpectedDuration(schemas []config.SchemaConfig) time.Duration {
	var longest int64
	for _, sc := range schemas {
		if ms := sc.Execution.ExpectedMillis() + int64(sc.Execution.Delay); ms > longest {
			longest = ms
		}
	}
	return time.Duration(longest) * time.Millisecond
}

// Scale multiplies every scenario's user count by factor, rounding and
// keeping at least one user. changed is false when no count moved.
func Scale(schemas []config.SchemaConfig, factor float64) (out []config.SchemaConfig, changed bool) {
	out = config.CloneSchemas(schemas)
	for i := range out {
		users := out[i].Execution.NumberOfUsers
		next := int(math.Round(float64(users) * factor))
		if next < 1 {
			next = 1
		}
		if next != users {
			changed = true
		}
		out[i].Execution.NumberOfUsers = next
	}
	return out, changed
}

func users(schemas []config.SchemaConfig) []int {
	out := make([]int, len(schemas))
	for i, sc := range schemas {
		out[i] = sc.Execution.NumberOfUsers
	}
	return out
}
