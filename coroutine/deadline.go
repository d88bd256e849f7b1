package coroutine

import (
	"time"
)

// Deadline bounds a multi-step operation, such that every internal
// suspension point shares one overall timeout. The zero value never expires.
type Deadline struct {
	at time.Time
}

// NewDeadline returns a deadline timeout from now, or the zero Deadline if
// timeout is not positive.
func NewDeadline(timeout time.Duration) Deadline {
	if timeout <= 0 {
		return Deadline{}
	}
	return Deadline{at: time.Now().Add(timeout)}
}

// IsZero reports whether the deadline never expires.
func (d Deadline) IsZero() bool { return d.at.IsZero() }

// Time returns the absolute deadline, or the zero time.
func (d Deadline) Time() time.Time { return d.at }

// Remaining returns the time left, suitable as the timeout of a single
// suspension, or [ErrTimedOut] once expired. A zero Deadline returns 0 (no
// timeout) and a nil error.
func (d Deadline) Remaining() (time.Duration, error) {
	if d.at.IsZero() {
		return 0, nil
	}
	remaining := time.Until(d.at)
	if remaining <= 0 {
		return 0, ErrTimedOut
	}
	return remaining, nil
}
