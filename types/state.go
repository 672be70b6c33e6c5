package types

// State represents the engine lifecycle state.
//
// States follow a defined progression:
//
//	StateInit → StateRestoring → StateRunning → StateStopping → StateStopped
//
// A failed restore may go straight from StateRestoring to StateStopped.
type State int

const (
	// StateInit is the initial state before Start.
	StateInit State = iota

	// StateRestoring indicates persisted drops and thresholds are being reloaded.
	StateRestoring

	// StateRunning indicates normal operation.
	StateRunning

	// StateStopping indicates graceful shutdown is in progress.
	StateStopping

	// StateStopped is terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRestoring:
		return "Restoring"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateInit:
		return next == StateRestoring || next == StateStopped
	case StateRestoring:
		return next == StateRunning || next == StateStopped
	case StateRunning:
		return next == StateStopping
	case StateStopping:
		return next == StateStopped
	default:
		return false
	}
}
