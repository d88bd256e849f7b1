package stream

import (
	"errors"

	"github.com/joeycumines/go-squall/coroutine"
)

// Standard errors.
var (
	// ErrConnectionReset is returned by reads attempted past the end of the
	// stream once every buffered byte has been consumed, and by writes to a
	// connection the peer has closed.
	ErrConnectionReset = errors.New("stream: connection reset")

	// ErrOSBufferExhausted is returned when staging more output would exceed
	// the session's hard cap. Output is never truncated.
	ErrOSBufferExhausted = errors.New("stream: output buffer exhausted")

	// ErrSendStalled is returned by WriteAll after repeated rounds in which no
	// bytes could be admitted.
	ErrSendStalled = errors.New("stream: send stalled")

	// ErrNoListeners is returned when no candidate address could be bound.
	ErrNoListeners = errors.New("stream: no listeners could be established")

	// ErrEmptyDelimiter is returned by ReadUntil for an empty delimiter.
	ErrEmptyDelimiter = errors.New("stream: empty delimiter")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("stream: session closed")

	// ErrTimedOut is returned when the deadline of an operation elapses.
	ErrTimedOut = coroutine.ErrTimedOut
)
