// Package pacing spreads a plan's user executions across its time budget.
package pacing

import (
	"github.com/wesleyorama2/swarm/internal/config"
)

// Step is one millisecond tick that has work attached.
type Step struct {
	// Tick is the 1-based millisecond offset from the start of the run
	Tick int64

	// Users is the number of executions due on this tick
	Users int

	// Progress is set on iteration boundaries
	Progress bool

	// Done is set on the final tick of the budget
	Done bool
}

// Pacer is the tick-pacing state machine for one plan.
//
// # Algorithm
//
// A plan of I iterations, U users and resolution R ms runs for I×R ticks of
// one millisecond each. The number of users due by tick t is floor(t×U/R),
// so a tick runs due(t) - due(t-1) users. With U < R most ticks run nobody
// and the fraction accumulates until a whole user is due; with U >= R every
// tick runs at least one. Integer arithmetic makes the total exactly I×U.
//
// Ticks on an iteration boundary (t % R == 0) carry a progress signal even
// when no user is due, so a run emits exactly I progress signals.
//
// Next skips ticks that carry neither users nor progress. The caller sleeps
// until the returned step's deadline instead of waking every millisecond.
//
// A Pacer is not safe for concurrent use.
type Pacer struct {
	users      int64
	resolution int64
	total      int64
	tick       int64
	scheduled  int64
}

// NewPacer creates a pacer for plan. A zero resolution uses the default.
func NewPacer(plan config.ExecutionPlan) *Pacer {
	res := int64(plan.Resolution)
	if res <= 0 {
		res = config.DefaultResolution
	}
	return &Pacer{
		users:      int64(plan.NumberOfUsers),
		resolution: res,
		total:      int64(plan.Iterations) * res,
	}
}

// TotalTicks returns the millisecond budget.
func (p *Pacer) TotalTicks() int64 {
	return p.total
}

// TicksLeft returns the ticks not yet consumed.
func (p *Pacer) TicksLeft() int64 {
	return p.total - p.tick
}

// Scheduled returns the number of users handed out so far.
func (p *Pacer) Scheduled() int64 {
	return p.scheduled
}

func (p *Pacer) due(t int64) int64 {
	return t * p.users / p.resolution
}

// Next advances to the next tick with work and returns it. ok is false once
// the budget is spent.
func (p *Pacer) Next() (Step, bool) {
	if p.tick >= p.total {
		return Step{}, false
	}

	dueNow := p.due(p.tick)

	// next boundary
	next := (p.tick/p.resolution + 1) * p.resolution

	// first tick where one more user is due: smallest t with t×U >= (due+1)×R
	if p.users > 0 {
		need := (dueNow + 1) * p.resolution
		t := (need + p.users - 1) / p.users
		if t < next {
			next = t
		}
	}
	if next > p.total {
		next = p.total
	}

	users := p.due(next) - dueNow
	p.tick = next
	p.scheduled += users

	return Step{
		Tick:     next,
		Users:    int(users),
		Progress: next%p.resolution == 0,
		Done:     next == p.total,
	}, true
}
