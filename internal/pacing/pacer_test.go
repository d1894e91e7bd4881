package pacing

import (
	"testing"

	"github.com/wesleyorama2/swarm/internal/config"
)

func TestPacer_Conservation(t *testing.T) {
	tests := []struct {
		name       string
		iterations int
		users      int
		resolution int
	}{
		{"fractional", 2, 3, 1000},
		{"one per iteration", 5, 1, 1000},
		{"exact", 3, 1000, 1000},
		{"batch per tick", 2, 2500, 1000},
		{"uneven batch", 4, 1234, 1000},
		{"short resolution", 7, 13, 10},
		{"large", 10, 9999, 250},
		{"prime", 3, 7, 997},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacer(config.ExecutionPlan{Iterations: tt.iterations, NumberOfUsers: tt.users, Resolution: tt.resolution})

			var users, progress, done int64
			last := int64(0)
			for {
				step, ok := p.Next()
				if !ok {
					break
				}
				if step.Tick <= last {
					t.Fatalf("tick %d not after %d", step.Tick, last)
				}
				last = step.Tick
				users += int64(step.Users)
				if step.Progress {
					progress++
				}
				if step.Done {
					done++
				}
			}

			if want := int64(tt.iterations * tt.users); users != want {
				t.Errorf("users = %d, want %d", users, want)
			}
			if progress != int64(tt.iterations) {
				t.Errorf("progress = %d, want %d", progress, tt.iterations)
			}
			if done != 1 {
				t.Errorf("done = %d, want 1", done)
			}
			if last != p.TotalTicks() {
				t.Errorf("last tick = %d, want %d", last, p.TotalTicks())
			}
			if p.TicksLeft() != 0 {
				t.Errorf("TicksLeft() = %d, want 0", p.TicksLeft())
			}
		})
	}
}

func TestPacer_FractionalSpacing(t *testing.T) {
	p := NewPacer(config.ExecutionPlan{Iterations: 1, NumberOfUsers: 4, Resolution: 1000})

	var ticks []int64
	for {
		step, ok := p.Next()
		if !ok {
			break
		}
		if step.Users > 0 {
			ticks = append(ticks, step.Tick)
		}
	}

	want := []int64{250, 500, 750, 1000}
	if len(ticks) != len(want) {
		t.Fatalf("user ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("user ticks = %v, want %v", ticks, want)
			break
		}
	}
}

func TestPacer_BatchPerTick(t *testing.T) {
	p := NewPacer(config.ExecutionPlan{Iterations: 1, NumberOfUsers: 3000, Resolution: 1000})

	step, ok := p.Next()
	if !ok {
		t.Fatal("Next() returned no step")
	}
	if step.Tick != 1 || step.Users != 3 {
		t.Errorf("first step = %+v, want tick 1 with 3 users", step)
	}
}

func TestPacer_DefaultsResolution(t *testing.T) {
	p := NewPacer(config.ExecutionPlan{Iterations: 2, NumberOfUsers: 1})
	if p.TotalTicks() != 2000 {
		t.Errorf("TotalTicks() = %d, want 2000", p.TotalTicks())
	}
}
