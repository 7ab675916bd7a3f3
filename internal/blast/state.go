package blast

import "fmt"

// State is the orchestrator's position in the blast pipeline. Transitions
// are monotonic forward, except that any non-idle state may drop to Idle on
// stop and Done returns to Idle on reset.
type State int

const (
	StateIdle State = iota
	StateServing
	StateDiscovering
	StateControlling
	StateSummarizing
	StateDone
)

// String returns the display name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateServing:
		return "SERVING"
	case StateDiscovering:
		return "DISCOVERING"
	case StateControlling:
		return "CONTROLLING"
	case StateSummarizing:
		return "SUMMARIZING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// canTransition reports whether from -> to is a legal state change.
func canTransition(from, to State) bool {
	if to == StateIdle {
		// Stop/cancel from any state, reset from Done, and the
		// discover-only return path all land on Idle.
		return from != StateIdle
	}
	switch from {
	case StateIdle:
		return to == StateServing
	case StateServing:
		return to == StateDiscovering
	case StateDiscovering:
		return to == StateControlling
	case StateControlling:
		return to == StateSummarizing
	case StateSummarizing:
		return to == StateDone
	default:
		return false
	}
}
