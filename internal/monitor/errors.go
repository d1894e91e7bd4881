package monitor

import (
	"fmt"
	"time"
)

// RegistrationTimeoutError is returned when the fleet did not fill up in time.
type RegistrationTimeoutError struct {
	Expected   int
	Registered int
	Timeout    time.Duration
}

func (e *RegistrationTimeoutError) Error() string {
	return fmt.Sprintf("only %d of %d agents registered within %s", e.Registered, e.Expected, e.Timeout)
}

// AgentLostError marks an agent that stopped answering.
type AgentLostError struct {
	AgentID string
	Err     error
}

func (e *AgentLostError) Error() string {
	return fmt.Sprintf("agent %s lost: %v", e.AgentID, e.Err)
}

func (e *AgentLostError) Unwrap() error {
	return e.Err
}

// GlobalSetupError aborts a run before any agent starts.
type GlobalSetupError struct {
	Scenario string
	Err      error
}

func (e *GlobalSetupError) Error() string {
	return fmt.Sprintf("global setup of %s failed: %v", e.Scenario, e.Err)
}

func (e *GlobalSetupError) Unwrap() error {
	return e.Err
}
