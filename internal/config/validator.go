package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the simulation.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
// Scenario names are not checked here; the registry owns that.
func (c *SimulationConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	if c.Resolution < 0 {
		errs.Add("resolution", "resolution cannot be negative")
	}

	for i, sc := range c.Scenarios {
		validateSchema(fmt.Sprintf("scenarios[%d]", i), &sc, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidatePlan validates a single execution plan.
func ValidatePlan(plan ExecutionPlan) error {
	errs := &ValidationErrors{}
	validatePlan("execution", &plan, errs)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateSchema(prefix string, sc *SchemaConfig, errs *ValidationErrors) {
	if strings.TrimSpace(sc.Scenario) == "" {
		errs.Add(prefix+".scenario", "scenario name is required")
	}
	validatePlan(prefix+".execution", &sc.Execution, errs)
}

func validatePlan(prefix string, plan *ExecutionPlan, errs *ValidationErrors) {
	if plan.Iterations <= 0 {
		errs.Add(prefix+".iterations", "iterations must be greater than 0")
	}
	if plan.NumberOfUsers <= 0 {
		errs.Add(prefix+".numberOfUsers", "numberOfUsers must be greater than 0")
	}
	if plan.Resolution < 0 {
		errs.Add(prefix+".resolution", "resolution cannot be negative")
	}
	if plan.Delay < 0 {
		errs.Add(prefix+".delay", "delay cannot be negative")
	}

	switch plan.TickExecutionStrategy {
	case "", StrategySliceTime, StrategyCustom:
	default:
		errs.Add(prefix+".tickExecutionStrategy", fmt.Sprintf("unknown strategy: %s", plan.TickExecutionStrategy))
	}

	switch plan.Type {
	case "", PlanTypeLinear:
	default:
		errs.Add(prefix+".type", fmt.Sprintf("unsupported distribution type: %s", plan.Type))
	}
}
