package eventloop

import (
	"math"
	"time"
)

// Note: open, close, add, remove, and wait are implemented in
// platform-specific files:
//   - poller_linux.go (epoll)
//   - poller_darwin.go (kqueue)
//   - poller_other.go (unsupported)

// readiness is a single ready descriptor, as reported by the poller.
type readiness struct {
	fd     int
	events Events
}

// timeoutMillis converts a poll timeout to milliseconds, rounding up so that
// a pending deadline is never polled for as zero (which would spin).
func timeoutMillis(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
