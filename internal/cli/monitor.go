package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
	"github.com/wesleyorama2/swarm/internal/monitor"
	"github.com/wesleyorama2/swarm/internal/optimizer"
	"github.com/wesleyorama2/swarm/internal/output"
	"github.com/wesleyorama2/swarm/internal/report"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/target"
	"github.com/wesleyorama2/swarm/internal/topology"
)

// ErrRunFailed is returned when the run finished in the failed state.
var ErrRunFailed = errors.New("run failed")

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Coordinate a fleet of agents through a simulation",
	Long: `Start the monitor. In local mode (the default) it spawns -n agent processes
itself; with -r it waits for -n external agents to register.

Local fleet:
  swarm monitor -s simulation.yaml -n 4 -o out

Remote fleet, agents started elsewhere with swarm agent:
  swarm monitor -s simulation.yaml -n 8 -r --port 7070

Find the user count the target sustains within 5% of the planned time:
  swarm monitor -s simulation.yaml -n 4 --optimize --optimize-margin 5

Recompute the stats of an existing report:
  swarm monitor -g -o out`,
	RunE: runMonitor,
}

type monitorFlags struct {
	simulation   string
	agents       int
	remote       bool
	host         string
	port         int
	outDir       string
	regenerate   bool
	targetURL    string
	quiet        bool
	noColor      bool
	regTimeout   time.Duration
	heartbeat    time.Duration
	topoInterval time.Duration
	noTopology   bool

	optimize       bool
	optMargin      float64
	optMode        string
	optPercentile  string
	optLatency     float64
	optScenario    string
	optGenerations int
}

func readMonitorFlags(cmd *cobra.Command) monitorFlags {
	f := cmd.Flags()
	var m monitorFlags
	m.simulation, _ = f.GetString("simulation")
	m.agents, _ = f.GetInt("agents")
	m.remote, _ = f.GetBool("remote")
	m.host, _ = f.GetString("host")
	m.port, _ = f.GetInt("port")
	m.outDir, _ = f.GetString("output")
	m.regenerate, _ = f.GetBool("regenerate")
	m.targetURL, _ = f.GetString("target-url")
	m.quiet, _ = f.GetBool("quiet")
	m.noColor, _ = f.GetBool("no-color")
	m.regTimeout, _ = f.GetDuration("registration-timeout")
	m.heartbeat, _ = f.GetDuration("heartbeat")
	m.topoInterval, _ = f.GetDuration("topology-interval")
	m.noTopology, _ = f.GetBool("no-topology")
	m.optimize, _ = f.GetBool("optimize")
	m.optMargin, _ = f.GetFloat64("optimize-margin")
	m.optMode, _ = f.GetString("optimize-mode")
	m.optPercentile, _ = f.GetString("optimize-percentile")
	m.optLatency, _ = f.GetFloat64("optimize-latency-target")
	m.optScenario, _ = f.GetString("optimize-for-scenario")
	m.optGenerations, _ = f.GetInt("optimize-max-generations")
	return m
}

func runMonitor(cmd *cobra.Command, args []string) error {
	flags := readMonitorFlags(cmd)
	console := output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), Quiet: flags.quiet, NoColor: flags.noColor})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.regenerate {
		r, err := report.Regenerate(ctx, flags.outDir)
		if err != nil {
			return err
		}
		console.PrintSummary(r)
		return nil
	}

	if flags.simulation == "" {
		return errors.New("--simulation is required")
	}
	if flags.agents <= 0 {
		return fmt.Errorf("--agents must be positive, got %d", flags.agents)
	}

	logger, err := newLogger(cmd, "monitor")
	if err != nil {
		return err
	}
	defer logger.Sync()

	sim, err := config.LoadConfig(flags.simulation)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}
	if err := resolveAll(reg, sim); err != nil {
		return err
	}

	if flags.optimize {
		// fail on a bad flag before any agent starts
		if err := optimizerOptions(flags, logger).Validate(); err != nil {
			return err
		}
	}

	first, err := measure.Recreate(measure.GenerationPath(flags.outDir, 0))
	if err != nil {
		return err
	}
	var store measure.Store = first

	dialer := target.NewDialer(flags.targetURL)
	coord, err := monitor.New(monitor.Options{
		Simulation:          sim,
		Registry:            reg,
		Target:              dialer,
		Store:               store,
		Expected:            flags.agents,
		Heartbeat:           flags.heartbeat,
		RegistrationTimeout: flags.regTimeout,
		OnProgress:          console.Progress,
		Logger:              logger,
	})
	if err != nil {
		store.Close()
		return err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(flags.host, strconv.Itoa(flags.port)))
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{Handler: coord.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitor server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	monitorURL := "http://" + net.JoinHostPort(advertiseHost(flags.host), strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))
	logger.Info("monitor listening", zap.String("url", monitorURL), zap.Int("agents", flags.agents))

	mode := "local"
	if flags.remote {
		mode = "remote"
	}
	console.PrintHeader(sim.Name, flags.agents, mode)

	topoCtx, stopTopo := context.WithCancel(ctx)
	topoBuf, topoDone := startTopology(topoCtx, flags, dialer, logger)

	if !flags.remote {
		launcher := &monitor.ProcessLauncher{
			MonitorURL: monitorURL,
			ExtraArgs:  agentArgs(cmd, flags),
			Logger:     logger,
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := launcher.Stop(stopCtx); err != nil {
				logger.Warn("failed to stop agents", zap.Error(err))
			}
		}()
		if err := launcher.Launch(ctx, flags.agents); err != nil {
			stopTopo()
			_ = coord.Shutdown(context.Background())
			store.Close()
			return err
		}
	} else {
		console.Println("waiting for %d agents at %s", flags.agents, monitorURL)
	}

	run, waitErr := waitRun(ctx, coord)

	var optResult *optimizer.Result
	if waitErr == nil && flags.optimize {
		optResult, waitErr = optimize(ctx, coord, sim, run, store, flags, logger)
		if optResult != nil {
			run, store = optResult.Last, optResult.Store
		}
	}

	shutdownErr := coord.Shutdown(context.Background())
	stopTopo()
	<-topoDone

	if waitErr != nil && run == nil {
		store.Close()
		return waitErr
	}

	storePath := measure.GenerationPath(flags.outDir, run.Generation)
	if sq, ok := store.(*measure.SQLiteStore); ok {
		storePath = sq.Path()
	}
	r, err := report.Build(context.Background(), report.Input{
		Simulation: sim,
		Target:     dialer.Addr(),
		Run:        run,
		Store:      store,
		StorePath:  storePath,
		Optimizer:  optResult,
	})
	store.Close()
	if err != nil {
		return err
	}
	if shutdownErr != nil {
		r.Status = report.StatusFailed
		r.Errors = append(r.Errors, shutdownErr.Error())
	}
	if err := report.Write(flags.outDir, r, topoBuf); err != nil {
		return err
	}
	console.PrintSummary(r)

	if waitErr != nil {
		return waitErr
	}
	if r.Status == report.StatusFailed {
		return ErrRunFailed
	}
	return nil
}

// resolveAll checks every scenario of the simulation against the registry.
func resolveAll(reg *scenario.Registry, sim *config.SimulationConfig) error {
	var errs []error
	for _, sc := range sim.Scenarios {
		if _, _, err := reg.Resolve(sc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waitRun waits for the first run. An interrupt cancels the agents' runs
// and still waits for their results.
func waitRun(ctx context.Context, coord *monitor.Coordinator) (*monitor.RunResult, error) {
	run, err := coord.Wait(ctx)
	if err == nil || ctx.Err() == nil || coord.State() == monitor.StateAwaitingRegistration {
		return run, err
	}

	abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	coord.Abort(abortCtx, "monitor interrupted")
	run, waitErr := coord.Wait(abortCtx)
	if waitErr != nil {
		return nil, err
	}
	return run, err
}

func optimize(ctx context.Context, coord *monitor.Coordinator, sim *config.SimulationConfig, run *monitor.RunResult, store measure.Store, flags monitorFlags, logger *zap.Logger) (*optimizer.Result, error) {
	opt, err := optimizer.New(coord, optimizerOptions(flags, logger))
	if err != nil {
		return nil, err
	}
	return opt.Run(ctx, sim, run, store)
}

func optimizerOptions(flags monitorFlags, logger *zap.Logger) optimizer.Options {
	return optimizer.Options{
		Mode:           optimizer.Mode(flags.optMode),
		Margin:         flags.optMargin,
		Percentile:     flags.optPercentile,
		LatencyTarget:  flags.optLatency,
		Scenario:       flags.optScenario,
		MaxGenerations: flags.optGenerations,
		OutputDir:      flags.outDir,
		Logger:         logger,
	}
}

func startTopology(ctx context.Context, flags monitorFlags, dialer *target.Dialer, logger *zap.Logger) (*topology.Buffer, <-chan struct{}) {
	buf := topology.NewBuffer()
	idle := make(chan struct{})
	close(idle)
	if flags.noTopology {
		return buf, idle
	}

	opts, err := dialer.Options()
	if err != nil {
		logger.Warn("topology monitor disabled", zap.Error(err))
		return buf, idle
	}
	prober := topology.NewRedisProber(opts)
	samples, err := topology.NewMonitor("target", prober, flags.topoInterval, logger).Start(ctx)
	if err != nil {
		logger.Warn("topology monitor disabled", zap.Error(err))
		_ = prober.Close()
		return buf, idle
	}

	done := make(chan struct{})
	collected := buf.Collect(samples)
	go func() {
		defer close(done)
		<-collected
		_ = prober.Close()
	}()
	return buf, done
}

// agentArgs forwards the flags local agents need to resolve the same
// scenarios against the same target.
func agentArgs(cmd *cobra.Command, flags monitorFlags) []string {
	level, _ := cmd.Flags().GetString("log-level")
	args := []string{"--log-level", level, "--target-url", flags.targetURL}
	if dir, _ := cmd.Flags().GetString("scenarios-dir"); dir != "" {
		args = append(args, "--scenarios-dir", dir)
	}
	if asJSON, _ := cmd.Flags().GetBool("log-json"); asJSON {
		args = append(args, "--log-json")
	}
	return args
}

func advertiseHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

func init() {
	f := monitorCmd.Flags()
	f.StringP("simulation", "s", "", "Simulation file (yaml or json)")
	f.IntP("agents", "n", 1, "Number of agents in the fleet")
	f.BoolP("remote", "r", false, "Wait for external agents instead of spawning them")
	f.String("host", "", "Interface to listen on (default all)")
	f.Int("port", 7070, "Port to listen on")
	f.StringP("output", "o", "out", "Output directory for measurements and the report")
	f.BoolP("regenerate", "g", false, "Regenerate the report in --output from its measurements and exit")
	f.String("target-url", target.DefaultURL, "Target system url")
	f.BoolP("quiet", "q", false, "Disable live progress output, show only the final status")
	f.Bool("no-color", false, "Disable colored output")
	f.Duration("registration-timeout", 0, "Fail when the fleet has not registered in time (0 waits forever)")
	f.Duration("heartbeat", monitor.DefaultHeartbeat, "Agent heartbeat interval (negative disables)")
	f.Duration("topology-interval", topology.DefaultInterval, "Target status probe interval")
	f.Bool("no-topology", false, "Do not probe the target's status during the run")

	f.Bool("optimize", false, "Re-run the fleet, scaling users until the target is met")
	f.Float64("optimize-margin", optimizer.DefaultMargin, "Accepted deviation from the target, in percent")
	f.String("optimize-mode", string(optimizer.ModeTotalTime), "Optimizer mode: total-time or latency")
	f.String("optimize-percentile", optimizer.DefaultPercentile, "Statistic compared in latency mode")
	f.Float64("optimize-latency-target", 0, "Latency target in milliseconds for latency mode")
	f.String("optimize-for-scenario", "", "Measurement tag used in latency mode (default the first recorded)")
	f.Int("optimize-max-generations", optimizer.DefaultMaxGenerations, "Maximum number of runs before giving up")
}
