// Package cli implements the swarm command line.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/logging"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/scenario/builtin"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "swarm",
	Short:   "Distributed load generation against a shared target",
	Version: version,
	Long: `Swarm runs load scenarios from a fleet of agent processes coordinated by a
monitor. The monitor registers agents, runs the global scenario hooks, paces
every agent through its share of the simulation and writes a report.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command. main turns a non-nil error into exit code 1.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")
	RootCmd.PersistentFlags().String("scenarios-dir", "", "Directory of scenario module files (yaml/json)")

	RootCmd.AddCommand(monitorCmd)
	RootCmd.AddCommand(agentCmd)
	RootCmd.AddCommand(scenariosCmd)
}

func newLogger(cmd *cobra.Command, process string) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	asJSON, _ := cmd.Flags().GetBool("log-json")
	return logging.New(logging.Config{Level: level, JSON: asJSON, Process: process})
}

// loadRegistry installs the built-in scenarios and loads any module files.
func loadRegistry(cmd *cobra.Command) (*scenario.Registry, error) {
	reg := scenario.NewRegistry()
	if err := builtin.Install(reg); err != nil {
		return nil, err
	}
	dir, _ := cmd.Flags().GetString("scenarios-dir")
	if dir != "" {
		if err := reg.Load(dir); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
