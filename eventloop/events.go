package eventloop

import (
	"strings"
)

// Events is a bitmask describing why a callback was invoked, or (for
// [Dispatcher.Watch]) which readiness conditions are of interest.
type Events uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead Events = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
	// EventTimeout indicates the watch deadline elapsed first.
	EventTimeout
	// EventIdle is delivered to callbacks queued via [Dispatcher.Call].
	EventIdle
	// EventCleanup is the cancellation signal. The dispatcher never produces
	// it, it is reserved for consumers (e.g. a coroutine scheduler) that need
	// to deliver cancellation through the same channel as other events.
	EventCleanup
)

// interestMask is the subset of Events that may be watched.
const interestMask = EventRead | EventWrite

var eventNames = [...]struct {
	ev   Events
	name string
}{
	{EventRead, "READ"},
	{EventWrite, "WRITE"},
	{EventError, "ERROR"},
	{EventHangup, "HANGUP"},
	{EventTimeout, "TIMEOUT"},
	{EventIdle, "IDLE"},
	{EventCleanup, "CLEANUP"},
}

// String returns the set flags joined by "|", e.g. "READ|HANGUP".
func (x Events) String() string {
	if x == 0 {
		return "NONE"
	}
	var b strings.Builder
	for _, v := range eventNames {
		if x&v.ev == 0 {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(v.name)
		x &^= v.ev
	}
	if x != 0 {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString("UNKNOWN")
	}
	return b.String()
}
