// Package scenario defines the workload lifecycle contract and the registry
// that indexes scenario descriptors by name.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/config"
)

// Instance is one scenario bound to one process.
//
// GlobalSetup and GlobalTeardown run once on the monitor. Setup and Teardown
// run once per agent process. Execute runs once per simulated user per tick
// and may be called concurrently.
type Instance interface {
	GlobalSetup(ctx context.Context) error
	GlobalTeardown(ctx context.Context) error
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
	Execute(ctx context.Context) error
}

// CustomRunner is implemented by self-paced scenarios. When the plan selects
// the custom strategy the pacing loop is bypassed and Custom owns the run.
// It returns how many executions it performed and the errors they produced.
type CustomRunner interface {
	Custom(ctx context.Context, remote Remote, remaining int64) (executed int64, errs []error)
}

// Remote is the monitor as seen from a running scenario.
type Remote interface {
	// Tick reports n progress units.
	Tick(ctx context.Context, n int) error
}

// Recorder receives measurements from Execute.
type Recorder interface {
	Record(tag string, start, end time.Time)
}

// Connector opens target-system connections. Clients obtained from Dial are
// given back with Release, never closed directly: during global setup and
// teardown every hook shares one connection.
type Connector interface {
	Dial(ctx context.Context) (*redis.Client, error)
	Release(client *redis.Client) error
}

// Services are the collaborators handed to every instance.
type Services struct {
	Target   Connector
	Recorder Recorder
	Logger   *zap.Logger
}

// Runtime describes the process the instance runs in.
type Runtime struct {
	AgentID    string
	Resolution int
}

// Context is the explicit per-instance state passed to a Factory.
type Context struct {
	Services Services
	Runtime  Runtime
	Schema   config.SchemaConfig
}

// Factory creates an instance from its context.
type Factory func(sc *Context) (Instance, error)

// Param declares one scenario parameter.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Param types.
const (
	ParamInteger  = "integer"
	ParamNumber   = "number"
	ParamString   = "string"
	ParamBoolean  = "boolean"
	ParamDuration = "duration"
)

// Descriptor is an immutable scenario definition.
type Descriptor struct {
	Name        string           `json:"name"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Params      map[string]Param `json:"params"`
	Create      Factory          `json:"-"`

	// Source is the module the descriptor was loaded from
	Source string `json:"source,omitempty"`
}

// Measure times fn and records it under tag. The error from fn is returned.
func Measure(rec Recorder, tag string, fn func() error) error {
	start := time.Now()
	err := fn()
	if rec != nil {
		rec.Record(tag, start, time.Now())
	}
	return err
}

// Int returns an integer param.
func (c *Context) Int(name string) int {
	switch v := c.Schema.Params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// String returns a string param.
func (c *Context) String(name string) string {
	if v, ok := c.Schema.Params[name].(string); ok {
		return v
	}
	if v, ok := c.Schema.Params[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Duration returns a duration param. Numbers are read as milliseconds.
func (c *Context) Duration(name string) time.Duration {
	switch v := c.Schema.Params[name].(type) {
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	default:
		return 0
	}
}

// Logger returns the instance logger, never nil.
func (c *Context) Logger() *zap.Logger {
	if c.Services.Logger == nil {
		return zap.NewNop()
	}
	return c.Services.Logger
}

// Base provides no-op lifecycle methods for scenarios to embed.
type Base struct{}

func (Base) GlobalSetup(context.Context) error    { return nil }
func (Base) GlobalTeardown(context.Context) error { return nil }
func (Base) Setup(context.Context) error          { return nil }
func (Base) Teardown(context.Context) error       { return nil }
