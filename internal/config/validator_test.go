package config

import (
	"strings"
	"testing"
)

func TestValidate_MinimalValid(t *testing.T) {
	cfg := &SimulationConfig{
		Name: "Test",
		Scenarios: []SchemaConfig{
			{Scenario: "sleep", Execution: ExecutionPlan{Iterations: 1, NumberOfUsers: 1}},
		},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() returned error for valid config: %v", err)
	}
}

func TestValidate_NoScenarios(t *testing.T) {
	cfg := &SimulationConfig{Name: "Test"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error when no scenarios defined")
	}
	if !strings.Contains(err.Error(), "scenario") {
		t.Errorf("Error should mention 'scenario', got: %v", err)
	}
}

func TestValidate_Plan(t *testing.T) {
	tests := []struct {
		name    string
		plan    ExecutionPlan
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid",
			plan: ExecutionPlan{Iterations: 2, NumberOfUsers: 3},
		},
		{
			name:    "zero users",
			plan:    ExecutionPlan{Iterations: 2},
			wantErr: true,
			errMsg:  "numberofusers",
		},
		{
			name:    "negative delay",
			plan:    ExecutionPlan{Iterations: 1, NumberOfUsers: 1, Delay: -5},
			wantErr: true,
			errMsg:  "delay",
		},
		{
			name:    "unknown strategy",
			plan:    ExecutionPlan{Iterations: 1, NumberOfUsers: 1, TickExecutionStrategy: "burst"},
			wantErr: true,
			errMsg:  "strategy",
		},
		{
			name:    "non-linear type",
			plan:    ExecutionPlan{Iterations: 1, NumberOfUsers: 1, Type: "exponential"},
			wantErr: true,
			errMsg:  "type",
		},
		{
			name: "custom strategy",
			plan: ExecutionPlan{Iterations: 1, NumberOfUsers: 1, TickExecutionStrategy: StrategyCustom},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(tt.plan)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePlan() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(strings.ToLower(err.Error()), tt.errMsg) {
				t.Errorf("Error should contain '%s', got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidationErrors_Multiple(t *testing.T) {
	cfg := &SimulationConfig{
		Scenarios: []SchemaConfig{
			{Scenario: "", Execution: ExecutionPlan{}},
		},
	}

	err := cfg.Validate()
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("Validate() error type = %T, want *ValidationErrors", err)
	}
	if len(verrs.Errors) != 3 {
		t.Errorf("len(Errors) = %d, want 3 (scenario, iterations, numberOfUsers)", len(verrs.Errors))
	}
	if !strings.Contains(err.Error(), "3 validation errors") {
		t.Errorf("Error() = %q, want aggregated message", err.Error())
	}
}
