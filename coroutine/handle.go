package coroutine

import (
	"fmt"
)

// Handle identifies a coroutine. Handles are allocated from a per-Scheduler
// counter, so they are never reused, and the zero Handle is never issued.
type Handle uint64

// String formats the handle as upper case hex.
func (h Handle) String() string {
	return fmt.Sprintf("%X", uint64(h))
}

// State is the lifecycle state of a coroutine.
//
//	StateCreated -> StateRunning <-> StateSuspended
//	                StateRunning  -> StateTerminated
type State uint8

const (
	// StateCreated is a spawned coroutine whose body has not started.
	StateCreated State = iota
	// StateRunning is the coroutine currently executing (possibly nested).
	StateRunning
	// StateSuspended is a coroutine blocked in Sleep or Wait.
	StateSuspended
	// StateTerminated is a coroutine whose body has returned.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
