package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "checkout"
resolution: 500
scenarios:
  - scenario: kv_set_get
    params:
      keyspace: 100
    execution:
      iterations: 10
      numberOfUsers: 50
`

	cfg, err := ParseConfig([]byte(yamlConfig), "sim.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Name != "checkout" {
		t.Errorf("Name = %q, want %q", cfg.Name, "checkout")
	}
	if len(cfg.Scenarios) != 1 {
		t.Fatalf("len(Scenarios) = %d, want 1", len(cfg.Scenarios))
	}
	sc := cfg.Scenarios[0]
	if sc.Scenario != "kv_set_get" {
		t.Errorf("Scenario = %q, want kv_set_get", sc.Scenario)
	}
	if sc.Execution.Iterations != 10 || sc.Execution.NumberOfUsers != 50 {
		t.Errorf("Execution = %+v, want iterations=10 numberOfUsers=50", sc.Execution)
	}
	if sc.Params["keyspace"] != 100 {
		t.Errorf("Params[keyspace] = %v, want 100", sc.Params["keyspace"])
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
		"name": "json-sim",
		"scenarios": [
			{"scenario": "sleep", "execution": {"iterations": 2, "numberOfUsers": 3, "tickExecutionStrategy": "custom"}}
		]
	}`

	cfg, err := ParseConfig([]byte(jsonConfig), "sim.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Scenarios[0].Execution.TickExecutionStrategy != StrategyCustom {
		t.Errorf("strategy = %q, want custom", cfg.Scenarios[0].Execution.TickExecutionStrategy)
	}
}

func TestParseConfig_InvalidJSON(t *testing.T) {
	if _, err := ParseConfig([]byte("{not json"), "sim.json"); err == nil {
		t.Error("ParseConfig() should fail on malformed JSON")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &SimulationConfig{
		Scenarios: []SchemaConfig{
			{Scenario: "a", Execution: ExecutionPlan{Iterations: 1, NumberOfUsers: 1}},
			{Scenario: "b", Execution: ExecutionPlan{Iterations: 1, NumberOfUsers: 1, Resolution: 250}},
		},
	}

	ApplyDefaults(cfg)

	if cfg.Resolution != DefaultResolution {
		t.Errorf("Resolution = %d, want %d", cfg.Resolution, DefaultResolution)
	}
	if got := cfg.Scenarios[0].Execution.Resolution; got != DefaultResolution {
		t.Errorf("scenario a resolution = %d, want %d", got, DefaultResolution)
	}
	if got := cfg.Scenarios[1].Execution.Resolution; got != 250 {
		t.Errorf("scenario b resolution = %d, want 250", got)
	}
	if got := cfg.Scenarios[0].Execution.TickExecutionStrategy; got != StrategySliceTime {
		t.Errorf("strategy = %q, want %q", got, StrategySliceTime)
	}
	if got := cfg.Scenarios[0].Execution.Type; got != PlanTypeLinear {
		t.Errorf("type = %q, want %q", got, PlanTypeLinear)
	}
}

func TestLoadConfig_RoundTripThroughWriteConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "optimized.yaml")

	in := &SimulationConfig{
		Name:       "opt",
		Resolution: 1000,
		Scenarios: []SchemaConfig{
			{Scenario: "sleep", Execution: ExecutionPlan{Iterations: 4, NumberOfUsers: 12, Resolution: 1000}},
		},
	}
	if err := WriteConfig(path, in); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}

	out, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if out.Scenarios[0].Execution.NumberOfUsers != 12 {
		t.Errorf("NumberOfUsers = %d, want 12", out.Scenarios[0].Execution.NumberOfUsers)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("LoadConfig() should fail for a missing file")
	}
	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	data := "scenarios:\n  - scenario: sleep\n    execution:\n      iterations: 0\n      numberOfUsers: 1\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() should reject iterations=0")
	}
	if !strings.Contains(err.Error(), "iterations") {
		t.Errorf("error should mention iterations, got: %v", err)
	}
}

func TestExecutionPlan_TotalExecutions(t *testing.T) {
	plan := ExecutionPlan{Iterations: 7, NumberOfUsers: 300, Resolution: 1000}
	if got := plan.TotalExecutions(); got != 2100 {
		t.Errorf("TotalExecutions() = %d, want 2100", got)
	}
	if got := plan.ExpectedMillis(); got != 7000 {
		t.Errorf("ExpectedMillis() = %d, want 7000", got)
	}
}

func TestSchemaConfig_CloneIsDeep(t *testing.T) {
	orig := SchemaConfig{Scenario: "x", Params: map[string]any{"k": 1}}
	cp := orig.Clone()
	cp.Params["k"] = 2
	if orig.Params["k"] != 1 {
		t.Error("Clone() shares the params map with the original")
	}
}
