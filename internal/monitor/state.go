package monitor

// State is the coordinator's phase.
type State int

const (
	StateInit State = iota
	StateAwaitingRegistration
	StateGlobalSetup
	StateDistributing
	StateExecuting
	StateAwaitingCompletion
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateInit:                 "init",
	StateAwaitingRegistration: "awaiting-registration",
	StateGlobalSetup:          "global-setup",
	StateDistributing:         "distributing",
	StateExecuting:            "executing",
	StateAwaitingCompletion:   "awaiting-completion",
	StateStopped:              "stopped",
	StateFailed:               "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
