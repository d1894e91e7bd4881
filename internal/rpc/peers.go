package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/swarm/internal/measure"
)

// AgentClient is the monitor's handle on one agent.
type AgentClient struct {
	client *Client
	ping   *Client
}

// NewAgentClient creates a handle for the agent at url. Pings use a short
// timeout so a dead agent is noticed quickly.
func NewAgentClient(url string, options ...ClientOption) *AgentClient {
	pingOpts := append([]ClientOption{}, options...)
	pingOpts = append(pingOpts, WithTimeout(time.Second), WithAttempts(3))
	return &AgentClient{
		client: NewClient(url, options...),
		ping:   NewClient(url, pingOpts...),
	}
}

// URL returns the agent address.
func (a *AgentClient) URL() string {
	return a.client.BaseURL()
}

// Setup instantiates and sets up scenarios on the agent.
func (a *AgentClient) Setup(ctx context.Context, req SetupRequest) error {
	return a.client.Call(ctx, MethodSetup, req, nil)
}

// Execute starts a run. It returns once the agent has accepted the run.
func (a *AgentClient) Execute(ctx context.Context, req ExecuteRequest) error {
	return a.client.Call(ctx, MethodExecute, req, nil)
}

// Cancel stops the agent's in-flight run.
func (a *AgentClient) Cancel(ctx context.Context, reason string) error {
	return a.client.Call(ctx, MethodCancel, CancelRequest{Reason: reason}, nil)
}

// Teardown tears down the agent's scenario instances.
func (a *AgentClient) Teardown(ctx context.Context, reason string) error {
	return a.client.Call(ctx, MethodTeardown, TeardownRequest{Reason: reason}, nil)
}

// Ping checks the agent is alive.
func (a *AgentClient) Ping(ctx context.Context, seq int64) error {
	return a.ping.Call(ctx, MethodPing, PingRequest{Seq: seq}, nil)
}

// MonitorClient is an agent's handle on the monitor.
type MonitorClient struct {
	client  *Client
	agentID string
}

// NewMonitorClient creates a handle for the monitor at url on behalf of agentID.
func NewMonitorClient(url, agentID string, options ...ClientOption) *MonitorClient {
	return &MonitorClient{client: NewClient(url, options...), agentID: agentID}
}

// Register announces the agent. accepted is false when the fleet is full.
func (m *MonitorClient) Register(ctx context.Context, info AgentInfo) (bool, error) {
	var reply RegisterReply
	if err := m.client.Call(ctx, MethodRegister, info, &reply); err != nil {
		return false, err
	}
	return reply.Accepted, nil
}

// Log ships measurements. It has the measure.Sink signature. Every call gets
// a fresh batch id, kept by the client's retries.
func (m *MonitorClient) Log(ctx context.Context, events []measure.Event) error {
	batch := LogBatch{AgentID: m.agentID, BatchID: uuid.NewString(), Events: events}
	return m.client.Call(ctx, MethodLog, batch, nil)
}

// Tick reports progress for a scenario.
func (m *MonitorClient) Tick(ctx context.Context, payload TickPayload) error {
	payload.AgentID = m.agentID
	return m.client.Call(ctx, MethodTick, payload, nil)
}

// Done reports a finished run.
func (m *MonitorClient) Done(ctx context.Context, result AgentResult) error {
	result.AgentID = m.agentID
	return m.client.Call(ctx, MethodDone, result, nil)
}

// Error reports a run that could not start.
func (m *MonitorClient) Error(ctx context.Context, report ErrorReport) error {
	report.AgentID = m.agentID
	return m.client.Call(ctx, MethodError, report, nil)
}

// Status sends an operations snapshot. snapshot must marshal to JSON.
func (m *MonitorClient) Status(ctx context.Context, snapshot any) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode status snapshot: %w", err)
	}
	return m.client.Call(ctx, MethodStatus, StatusReport{AgentID: m.agentID, Snapshot: raw}, nil)
}
