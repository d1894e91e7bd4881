package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
	"github.com/wesleyorama2/swarm/internal/monitor"
	"github.com/wesleyorama2/swarm/internal/optimizer"
	"github.com/wesleyorama2/swarm/internal/rpc"
	"github.com/wesleyorama2/swarm/internal/topology"
)

func fixture(t *testing.T, dir string) (Input, *measure.SQLiteStore) {
	t.Helper()
	path := measure.GenerationPath(dir, 0)
	store, err := measure.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	start := time.Unix(1700000000, 0)
	var events []measure.Event
	for i := 1; i <= 10; i++ {
		events = append(events, measure.NewEvent("kv.get", start, start.Add(time.Duration(i)*time.Millisecond)))
	}
	events = append(events, measure.NewEvent("kv.set", start, start.Add(3*time.Millisecond)))
	require.NoError(t, store.Append(context.Background(), events))

	sim := &config.SimulationConfig{
		Name: "kv",
		Scenarios: []config.SchemaConfig{
			{Scenario: "kv_set_get", Params: map[string]any{"keyspace": 10}, Execution: config.ExecutionPlan{Iterations: 2, NumberOfUsers: 3, Resolution: 1000}},
		},
	}
	run := &monitor.RunResult{
		Generation: 0,
		Start:      start,
		End:        start.Add(2100 * time.Millisecond),
		Errors:     []string{"kv_set_get: boom"},
		Agents: []monitor.AgentRecord{
			{
				Info:    rpc.AgentInfo{ID: "agent-1", Hostname: "h1", PID: 10},
				Schemas: sim.Scenarios,
				Result: &rpc.AgentResult{AgentID: "agent-1", Scenarios: []rpc.ScenarioResult{
					{Name: "kv_set_get", Executions: 6, Errors: []string{"boom"}},
				}},
			},
		},
	}
	return Input{RunID: "run-1", Simulation: sim, Target: "localhost:6379", Run: run, Store: store, StorePath: path}, store
}

func TestBuild(t *testing.T) {
	in, _ := fixture(t, t.TempDir())
	r, err := Build(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, int64(2100), r.ElapsedMS)
	require.Len(t, r.Scenarios, 1)
	assert.Equal(t, int64(6), r.Scenarios[0].Executions)
	assert.Equal(t, 1, r.Scenarios[0].Errors)
	assert.Equal(t, []string{"kv_set_get"}, r.Agents[0].Scenarios)

	require.Len(t, r.Stats, 2)
	assert.Equal(t, "kv.get", r.Stats[0].Tag)
	assert.Equal(t, int64(10), r.Stats[0].Count)
	assert.InDelta(t, 5.5, r.Stats[0].Mean, 0.05)
}

func TestBuild_FailedRunAndOptimizedSchemas(t *testing.T) {
	in, _ := fixture(t, t.TempDir())
	in.RunID = ""
	in.Run.Failed = true
	optimized := config.CloneSchemas(in.Simulation.Scenarios)
	optimized[0].Execution.NumberOfUsers = 9
	in.Optimizer = &optimizer.Result{Outcome: optimizer.OutcomeNotConverged, Schemas: optimized}

	r, err := Build(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Len(t, r.RunID, 36)
	assert.Equal(t, 9, r.Scenarios[0].Execution.NumberOfUsers)
}

func TestWriteAndRegenerate(t *testing.T) {
	dir := t.TempDir()
	in, store := fixture(t, dir)
	r, err := Build(context.Background(), in)
	require.NoError(t, err)

	buf := topology.NewBuffer()
	buf.Add(topology.Sample{Name: "target", Kind: topology.KindSingle, Server: "localhost:6379", RawStatus: map[string]string{"role": "master"}})
	buf.Add(topology.Sample{Name: "target", Kind: topology.KindSingle, Server: "localhost:6379"})
	require.NoError(t, Write(dir, r, buf))

	topoFile := filepath.Join(dir, "topology-target-localhost_6379.json")
	data, err := os.ReadFile(topoFile)
	require.NoError(t, err)
	assert.Equal(t, "master", gjson.GetBytes(data, "0.rawStatus.role").String())
	assert.Equal(t, []TopologyFile{{Name: "target", Server: "localhost:6379", File: "topology-target-localhost_6379.json", Samples: 2}}, r.Topology)

	// more measurements arrive after the report was written
	now := time.Now()
	require.NoError(t, store.Append(context.Background(), []measure.Event{measure.NewEvent("queue.consume", now, now.Add(time.Millisecond))}))

	again, err := Regenerate(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, again.Stats, 3)
	assert.Equal(t, "run-1", again.RunID)
	assert.Len(t, again.Topology, 1)

	read, err := Read(dir)
	require.NoError(t, err)
	assert.Len(t, read.Stats, 3)
}

func TestRegenerate_MissingReport(t *testing.T) {
	_, err := Regenerate(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestTopologyFileName(t *testing.T) {
	assert.Equal(t, "topology-target-10.0.0.1_6379.json", TopologyFileName("target", "10.0.0.1:6379"))
}
