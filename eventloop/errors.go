package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrSetup is matched (via [errors.Is]) by every [*SetupError].
	ErrSetup = errors.New("eventloop: setup error")

	// ErrDispatcherClosed is returned when operations are attempted on a
	// closed dispatcher.
	ErrDispatcherClosed = errors.New("eventloop: dispatcher closed")

	// ErrAlreadyRunning is returned when Start is called while the dispatcher
	// is already running, e.g. from within one of its own callbacks.
	ErrAlreadyRunning = errors.New("eventloop: dispatcher is already running")

	// ErrUnsupportedPlatform is returned by New on platforms without a poller
	// implementation.
	ErrUnsupportedPlatform = errors.New("eventloop: platform not supported")
)

// SetupError reports an invalid watch registration. It fails the calling
// primitive synchronously and has no effect on the dispatcher itself.
type SetupError struct {
	Reason string
	// FD is the descriptor involved, or NoFD.
	FD int
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	if e.FD >= 0 {
		return fmt.Sprintf("eventloop: setup error: fd %d: %s", e.FD, e.Reason)
	}
	return "eventloop: setup error: " + e.Reason
}

// Is allows matching against [ErrSetup].
func (e *SetupError) Is(target error) bool {
	return target == ErrSetup
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("eventloop: callback panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
