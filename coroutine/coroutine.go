package coroutine

import (
	"time"

	"github.com/joeycumines/go-squall/eventloop"
)

// Func is the body of a coroutine. A non-nil result (other than
// [ErrCancelled]) is logged against the coroutine's handle, then discarded.
type Func func(co *Coroutine) error

// Coroutine is a suspendable unit of execution, created by
// [Scheduler.Spawn].
//
// Its body runs on a dedicated goroutine, but only ever while the dispatcher
// goroutine is blocked handing control to it, so exactly one of the two runs
// at any time.
type Coroutine struct {
	sched  *Scheduler
	fn     Func
	handle Handle
	state  State
	err    error

	resume chan resumption
	yield  chan struct{}

	// seq identifies the current suspension, so that stale wake-ups are
	// ignored.
	seq   uint64
	watch eventloop.WatchID

	cancelled     bool
	cancelPending bool
}

// Handle returns the coroutine's handle.
func (co *Coroutine) Handle() Handle { return co.handle }

// State returns the coroutine's lifecycle state.
func (co *Coroutine) State() State { return co.state }

// Scheduler returns the scheduler that owns the coroutine.
func (co *Coroutine) Scheduler() *Scheduler { return co.sched }

// Cancelled reports whether cancellation has been requested.
func (co *Coroutine) Cancelled() bool { return co.cancelled || co.cancelPending }

// Err returns the result of the body, once terminated.
func (co *Coroutine) Err() error { return co.err }

func (co *Coroutine) main() {
	defer func() {
		if v := recover(); v != nil {
			co.err = PanicError{Value: v}
		}
		co.state = StateTerminated
		co.yield <- struct{}{}
	}()
	co.err = co.fn(co)
}

// Sleep suspends the coroutine for timeout, returning [eventloop.EventTimeout].
// A non-positive timeout still yields to the dispatcher for one iteration,
// returning [eventloop.EventIdle].
//
// Sleep must be called from the coroutine's own body. Once the coroutine has
// been cancelled, it returns [ErrCancelled] without suspending.
func (co *Coroutine) Sleep(timeout time.Duration) (eventloop.Events, error) {
	if err := co.enter(); err != nil {
		return 0, err
	}
	d := co.sched.dispatcher
	cb := co.wake(co.arm())
	if timeout > 0 {
		id, err := d.WatchTimeout(cb, timeout)
		if err != nil {
			return 0, err
		}
		co.watch = id
	} else {
		d.Call(cb)
	}
	return co.suspend()
}

// Wait suspends the coroutine until fd is ready for any of mask, or the
// timeout (if positive) elapses, in which case it returns [ErrTimedOut].
// Registration failures, such as another watch on fd, are returned as the
// dispatcher's [*eventloop.SetupError] without suspending.
//
// Wait must be called from the coroutine's own body. Once the coroutine has
// been cancelled, it returns [ErrCancelled] without suspending. A pending
// cancellation takes priority over readiness.
func (co *Coroutine) Wait(fd int, mask eventloop.Events, timeout time.Duration) (eventloop.Events, error) {
	if err := co.enter(); err != nil {
		return 0, err
	}
	id, err := co.sched.dispatcher.Watch(co.wake(co.arm()), fd, mask, timeout)
	if err != nil {
		return 0, err
	}
	co.watch = id
	events, err := co.suspend()
	if err != nil {
		return events, err
	}
	if events&eventloop.EventTimeout != 0 {
		return events, ErrTimedOut
	}
	return events, nil
}

// WaitDeadline is [Coroutine.Wait], bounded by the time remaining until
// deadline.
func (co *Coroutine) WaitDeadline(fd int, mask eventloop.Events, deadline Deadline) (eventloop.Events, error) {
	timeout, err := deadline.Remaining()
	if err != nil {
		return 0, err
	}
	return co.Wait(fd, mask, timeout)
}

// enter validates a suspension attempt.
func (co *Coroutine) enter() error {
	if current, ok := co.sched.Current(); !ok || current != co.handle || co.state != StateRunning {
		return ErrNotRunning
	}
	if co.cancelPending {
		co.cancelPending = false
		co.cancelled = true
	}
	if co.cancelled {
		return ErrCancelled
	}
	return nil
}

// arm starts a new suspension, returning its sequence number.
func (co *Coroutine) arm() uint64 {
	co.seq++
	return co.seq
}

// disarm invalidates the current suspension, dropping its registration.
func (co *Coroutine) disarm() {
	co.seq++
	if co.watch != 0 {
		co.sched.dispatcher.Cancel(co.watch)
		co.watch = 0
	}
}

// wake returns the dispatcher callback that resumes suspension seq.
func (co *Coroutine) wake(seq uint64) eventloop.Callback {
	return func(events eventloop.Events) {
		if co.state != StateSuspended || co.seq != seq {
			return
		}
		co.seq++
		co.watch = 0
		co.sched.resumeWith(co, resumption{events: events})
	}
}

// suspend hands control back to the dispatcher until resumed.
func (co *Coroutine) suspend() (eventloop.Events, error) {
	co.state = StateSuspended
	co.yield <- struct{}{}
	r := <-co.resume
	return r.events, r.err
}
