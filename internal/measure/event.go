// Package measure holds measurement events, the append-only measurement log
// and the batching recorder agents use to ship events to the monitor.
package measure

import "time"

// Event is one completed unit of work. Events are never mutated once written.
type Event struct {
	// ID is assigned by the store on append (monotonically increasing)
	ID int64 `json:"id,omitempty"`

	// Tag names the measured operation, usually the scenario name
	Tag string `json:"tag"`

	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ElapsedMicros int64     `json:"elapsedMicros"`

	// Generation is the optimizer generation the event belongs to
	Generation int `json:"generation"`
}

// NewEvent builds an event from a start and end time.
func NewEvent(tag string, start, end time.Time) Event {
	return Event{
		Tag:           tag,
		Start:         start,
		End:           end,
		ElapsedMicros: end.Sub(start).Microseconds(),
	}
}
