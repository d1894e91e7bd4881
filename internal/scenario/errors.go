package scenario

import "fmt"

// ScenarioNotFoundError is returned when a config names an unregistered scenario.
type ScenarioNotFoundError struct {
	Name string
}

func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario not found: %s", e.Name)
}

// InvalidParamError is returned when a config supplies a param the descriptor
// does not declare, or a value of the wrong type.
type InvalidParamError struct {
	Scenario string
	Param    string
	Reason   string
}

func (e *InvalidParamError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid params for scenario %s: %s", e.Scenario, e.Reason)
	}
	return fmt.Sprintf("invalid param %q for scenario %s: %s", e.Param, e.Scenario, e.Reason)
}

// DuplicateScenarioError is returned when two modules define the same name.
type DuplicateScenarioError struct {
	Name     string
	Source   string
	Existing string
}

func (e *DuplicateScenarioError) Error() string {
	return fmt.Sprintf("duplicate scenario %q in %s (already defined by %s)", e.Name, e.Source, e.Existing)
}

// ScenarioExecutionError wraps one failed Execute call.
type ScenarioExecutionError struct {
	Scenario string
	Tick     int64
	Err      error
}

func (e *ScenarioExecutionError) Error() string {
	return fmt.Sprintf("scenario %s failed at tick %d: %v", e.Scenario, e.Tick, e.Err)
}

func (e *ScenarioExecutionError) Unwrap() error {
	return e.Err
}

// WriteConcernError is surfaced when the target rejects or aborts a write.
type WriteConcernError struct {
	Scenario string
	Op       string
	Err      error
}

func (e *WriteConcernError) Error() string {
	return fmt.Sprintf("write concern failed in %s (%s): %v", e.Scenario, e.Op, e.Err)
}

func (e *WriteConcernError) Unwrap() error {
	return e.Err
}
