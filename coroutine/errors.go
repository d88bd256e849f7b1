package coroutine

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrCancelled is injected at the suspension point of a cancelled
	// coroutine, and returned by every subsequent suspension attempt.
	ErrCancelled = errors.New("coroutine: cancelled")

	// ErrTimedOut is returned when a deadline elapses before the awaited
	// event.
	ErrTimedOut = errors.New("coroutine: timed out")

	// ErrNotRunning is returned when a suspending primitive is called from
	// anywhere other than the body of the coroutine it belongs to.
	ErrNotRunning = errors.New("coroutine: not called from the running coroutine")

	// ErrUnknownHandle is returned for handles not in the active set,
	// including those of terminated coroutines.
	ErrUnknownHandle = errors.New("coroutine: unknown handle")

	// ErrNotSuspended is returned when resuming a coroutine that is not
	// suspended.
	ErrNotSuspended = errors.New("coroutine: not suspended")

	// ErrShuttingDown is returned by Spawn while every active coroutine is
	// being cancelled.
	ErrShuttingDown = errors.New("coroutine: scheduler is shutting down")

	// ErrNilFunc is returned by Spawn for a nil body.
	ErrNilFunc = errors.New("coroutine: nil func")

	// ErrNilDispatcher is returned by New for a nil dispatcher.
	ErrNilDispatcher = errors.New("coroutine: nil dispatcher")
)

// PanicError wraps a value recovered from a panicking coroutine body.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("coroutine: panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
