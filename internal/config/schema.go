// Package config provides simulation file parsing and validation.
package config

// Tick execution strategies.
const (
	StrategySliceTime = "slicetime"
	StrategyCustom    = "custom"
)

// PlanTypeLinear is the only supported distribution type.
const PlanTypeLinear = "linear"

// DefaultResolution is the default iteration window in milliseconds.
const DefaultResolution = 1000

// SimulationConfig is the root of a simulation file.
//
// Example YAML:
//
//	name: "checkout"
//	resolution: 1000
//	scenarios:
//	  - scenario: kv_set_get
//	    params:
//	      keyspace: 1000
//	    execution:
//	      iterations: 10
//	      numberOfUsers: 100
type SimulationConfig struct {
	// Name of the simulation (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the simulation (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Resolution is the default milliseconds per iteration for every scenario
	Resolution int `json:"resolution,omitempty" yaml:"resolution,omitempty"`

	// Scenarios lists the scenario instances to run, in order
	Scenarios []SchemaConfig `json:"scenarios" yaml:"scenarios"`
}

// SchemaConfig binds a registered scenario to its params and execution plan.
type SchemaConfig struct {
	// Scenario is the registered scenario name
	Scenario string `json:"scenario" yaml:"scenario"`

	// Params override the scenario's declared defaults
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Execution controls how the scenario is paced on each agent
	Execution ExecutionPlan `json:"execution" yaml:"execution"`
}

// ExecutionPlan is the per-scenario distribution config.
type ExecutionPlan struct {
	// Iterations is the number of resolution windows to run
	Iterations int `json:"iterations" yaml:"iterations"`

	// NumberOfUsers is the executions spread across each window
	NumberOfUsers int `json:"numberOfUsers" yaml:"numberOfUsers"`

	// Resolution is milliseconds per iteration (default 1000)
	Resolution int `json:"resolution,omitempty" yaml:"resolution,omitempty"`

	// Delay is the startup offset in milliseconds
	Delay int `json:"delay,omitempty" yaml:"delay,omitempty"`

	// TickExecutionStrategy is "slicetime" (default) or "custom"
	TickExecutionStrategy string `json:"tickExecutionStrategy,omitempty" yaml:"tickExecutionStrategy,omitempty"`

	// Type is the distribution type, only "linear" is supported
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// TotalExecutions returns iterations × numberOfUsers.
func (p ExecutionPlan) TotalExecutions() int64 {
	return int64(p.Iterations) * int64(p.NumberOfUsers)
}

// ExpectedMillis returns the wall-clock budget of the plan in milliseconds.
func (p ExecutionPlan) ExpectedMillis() int64 {
	return int64(p.Iterations) * int64(p.Resolution)
}

// Clone returns a deep copy of the schema config.
func (s SchemaConfig) Clone() SchemaConfig {
	out := s
	if s.Params != nil {
		out.Params = make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	return out
}

// CloneSchemas deep copies a slice of schema configs.
func CloneSchemas(in []SchemaConfig) []SchemaConfig {
	if in == nil {
		return nil
	}
	out := make([]SchemaConfig, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
