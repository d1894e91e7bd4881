package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/agent"
	"github.com/wesleyorama2/swarm/internal/pacing"
	"github.com/wesleyorama2/swarm/internal/rpc"
	"github.com/wesleyorama2/swarm/internal/target"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run an agent and register it with a monitor",
	Long: `Start an agent process. The agent listens for the monitor's setup and
execute calls, registers itself at --monitor-url and runs until interrupted
or until the monitor's fleet turns out to be full.

  swarm agent --monitor-url http://10.0.0.5:7070 --target-url redis://10.0.0.9:6379/0`,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	monitorURL, _ := cmd.Flags().GetString("monitor-url")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	id, _ := cmd.Flags().GetString("id")
	targetURL, _ := cmd.Flags().GetString("target-url")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	if monitorURL == "" {
		return errors.New("--monitor-url is required")
	}
	if id == "" {
		id = "agent-" + uuid.NewString()[:8]
	}

	logger, err := newLogger(cmd, "agent")
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	mc := rpc.NewMonitorClient(monitorURL, id, rpc.WithLogger(logger))
	a := agent.New(agent.Options{
		ID:        id,
		Registry:  reg,
		Target:    target.NewDialer(targetURL),
		Monitor:   mc,
		Clock:     pacing.RealClock{},
		Logger:    logger,
		BatchSize: batchSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting", zap.String("id", id), zap.String("monitor", monitorURL))
	return a.Serve(ctx, host, port, mc)
}

func init() {
	agentCmd.Flags().String("monitor-url", "", "Monitor base url (required)")
	agentCmd.Flags().String("host", "", "Interface to listen on (default all)")
	agentCmd.Flags().Int("port", 0, "Port to listen on (0 picks a free port)")
	agentCmd.Flags().String("id", "", "Agent id (default a random id)")
	agentCmd.Flags().String("target-url", target.DefaultURL, "Target system url")
	agentCmd.Flags().Int("batch-size", 0, "Measurements per log call (0 uses the default)")
}
