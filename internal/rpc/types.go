// Package rpc carries the monitor/agent protocol over HTTP with JSON bodies.
//
// Every operation is a POST to /rpc/<method>. A 2xx reply carries the result;
// anything else carries an ErrorBody.
package rpc

import (
	"encoding/json"

	"github.com/wesleyorama2/swarm/internal/config"
	"github.com/wesleyorama2/swarm/internal/measure"
)

// Monitor-side methods.
const (
	MethodRegister = "register"
	MethodLog      = "log"
	MethodTick     = "tick"
	MethodDone     = "done"
	MethodError    = "error"
	MethodStatus   = "status"
)

// Agent-side methods.
const (
	MethodSetup    = "setup"
	MethodExecute  = "execute"
	MethodCancel   = "cancel"
	MethodPing     = "ping"
	MethodTeardown = "teardown"
)

// Path returns the route of method.
func Path(method string) string {
	return "/rpc/" + method
}

// AgentInfo identifies an agent process.
type AgentInfo struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	PID      int    `json:"pid"`

	// URL is where the agent serves its own methods
	URL string `json:"url"`
}

// RegisterReply tells an agent whether it joined the fleet.
type RegisterReply struct {
	Accepted bool `json:"accepted"`
}

// SetupRequest asks an agent to instantiate and set up scenarios.
type SetupRequest struct {
	AgentID      string                `json:"agentId"`
	ResolutionMS int                   `json:"resolutionMS"`
	Simulation   []config.SchemaConfig `json:"simulation"`
}

// ExecuteRequest starts a run on an agent. A non-empty Simulation replaces
// the execution plans of scenarios already set up, matched by position.
type ExecuteRequest struct {
	Generation int                   `json:"generation"`
	Simulation []config.SchemaConfig `json:"simulation,omitempty"`
}

// CancelRequest stops the in-flight run.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TeardownRequest asks an agent to tear down its scenario instances once
// the fleet is done with them.
type TeardownRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PingRequest is a liveness probe.
type PingRequest struct {
	Seq int64 `json:"seq"`
}

// TickPayload reports progress units.
type TickPayload struct {
	AgentID    string `json:"agentId"`
	Scenario   string `json:"scenario"`
	Count      int    `json:"count"`
	Generation int    `json:"generation"`
}

// LogBatch carries measurements to the monitor's store. BatchID is the same
// across retries of one batch so the monitor appends it once.
type LogBatch struct {
	AgentID string          `json:"agentId"`
	BatchID string          `json:"batchId,omitempty"`
	Events  []measure.Event `json:"events"`
}

// ScenarioResult is one scenario's outcome on one agent.
type ScenarioResult struct {
	Name       string   `json:"name"`
	Executions int64    `json:"executions"`
	ElapsedMS  int64    `json:"elapsedMS"`
	Errors     []string `json:"errors"`
}

// AgentResult is sent with done once every scenario on an agent finished.
type AgentResult struct {
	AgentID    string           `json:"agentId"`
	Generation int              `json:"generation"`
	Scenarios  []ScenarioResult `json:"scenarios"`
}

// ErrorCount returns the number of errors across scenarios.
func (r AgentResult) ErrorCount() int {
	n := 0
	for _, s := range r.Scenarios {
		n += len(s.Errors)
	}
	return n
}

// ErrorReport is sent instead of done when an agent could not run at all.
type ErrorReport struct {
	AgentID    string   `json:"agentId"`
	Generation int      `json:"generation"`
	Errors     []string `json:"errors"`
}

// StatusReport carries a free-form operations snapshot.
type StatusReport struct {
	AgentID  string          `json:"agentId"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// Ack is the empty success reply.
type Ack struct {
	OK bool `json:"ok"`
}

// ErrorBody is the reply of a failed call.
type ErrorBody struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}
