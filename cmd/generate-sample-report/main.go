// Command generate-sample-report writes a synthetic run (measurements db and
// report.json) to a directory, for trying out swarm monitor -g without a
// target system.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
	"github.com/wesleyorama2/swarm/internal/monitor"
	"github.com/wesleyorama2/swarm/internal/report"
	"github.com/wesleyorama2/swarm/internal/rpc"
	"github.com/wesleyorama2/swarm/internal/topology"
)

func main() {
	outDir := "sample-report"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}

	if err := generate(context.Background(), outDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sample report generated in %s\n", outDir)
}

func generate(ctx context.Context, outDir string) error {
	sim := &config.SimulationConfig{
		Name:       "Inventory load - sample",
		Resolution: 1000,
		Scenarios: []config.SchemaConfig{
			{Scenario: "kv_set_get", Params: map[string]any{"keyspace": 1000}, Execution: config.ExecutionPlan{Iterations: 60, NumberOfUsers: 50, Resolution: 1000}},
			{Scenario: "inventory_reserve", Params: map[string]any{"products": 20}, Execution: config.ExecutionPlan{Iterations: 60, NumberOfUsers: 20, Resolution: 1000}},
		},
	}

	path := measure.GenerationPath(outDir, 0)
	store, err := measure.Recreate(path)
	if err != nil {
		return err
	}
	defer store.Close()

	end := time.Now()
	start := end.Add(-time.Minute)
	tags := map[string]time.Duration{"kv.set": 800 * time.Microsecond, "kv.get": 500 * time.Microsecond, "inventory.reserve": 4 * time.Millisecond}
	for tag, base := range tags {
		events := make([]measure.Event, 0, 3000)
		for i := 0; i < 3000; i++ {
			at := start.Add(time.Duration(i) * 20 * time.Millisecond)
			// exponential tail over the base latency
			elapsed := base + time.Duration(rand.ExpFloat64()*float64(base)/2)
			events = append(events, measure.NewEvent(tag, at, at.Add(elapsed)))
		}
		if err := store.Append(ctx, events); err != nil {
			return err
		}
	}

	agents := []monitor.AgentRecord{
		{Info: rpc.AgentInfo{ID: "agent-1", Hostname: "load-1", PID: 4101}, Schemas: sim.Scenarios[:1],
			Result: &rpc.AgentResult{AgentID: "agent-1", Scenarios: []rpc.ScenarioResult{{Name: "kv_set_get", Executions: 3000, ElapsedMS: 60012}}}},
		{Info: rpc.AgentInfo{ID: "agent-2", Hostname: "load-2", PID: 4102}, Schemas: sim.Scenarios[1:],
			Result: &rpc.AgentResult{AgentID: "agent-2", Scenarios: []rpc.ScenarioResult{{Name: "inventory_reserve", Executions: 1200, ElapsedMS: 60040, Errors: []string{"out of stock"}}}}},
	}
	run := &monitor.RunResult{Start: start, End: end, Agents: agents, Errors: []string{"inventory_reserve: out of stock"}}

	r, err := report.Build(ctx, report.Input{Simulation: sim, Target: "localhost:6379", Run: run, Store: store, StorePath: path})
	if err != nil {
		return err
	}

	buf := topology.NewBuffer()
	for i := 0; i < 60; i++ {
		buf.Add(topology.Sample{
			Name:      "target",
			Kind:      topology.KindSingle,
			Server:    "localhost:6379",
			Timestamp: start.Add(time.Duration(i) * time.Second),
			RawStatus: map[string]string{"role": "master", "connected_clients": fmt.Sprint(70 + rand.IntN(5))},
		})
	}
	return report.Write(outDir, r, buf)
}
