// Package coroutine implements a cooperative coroutine scheduler on top of
// [eventloop.Dispatcher].
//
// A coroutine is a [Func] spawned with [Scheduler.Spawn]. Its body starts on
// the next dispatcher iteration, and runs uninterrupted until it suspends in
// [Coroutine.Sleep] or [Coroutine.Wait] (or anything built from them), or
// returns. Suspended coroutines are resumed by dispatcher callbacks, or
// explicitly via [Scheduler.Switch] and [Scheduler.Throw].
//
// Each coroutine body runs on its own goroutine, but control is handed back
// and forth with the dispatcher goroutine over unbuffered channels, so only
// one ever runs at a time. State shared between coroutines therefore needs no
// synchronization, as long as it is only touched between suspension points.
//
// # Cancellation
//
// [Scheduler.Cancel] and [Scheduler.CancelAll] inject [ErrCancelled] at a
// coroutine's current suspension point, pre-empting whatever it was waiting
// for. Every later suspension attempt fails immediately with the same error,
// so the body is expected to run its cleanup and return.
//
// [Scheduler.Run] cancels every coroutine still active once the dispatcher
// stops, including any that never started.
//
// # Errors
//
// A body returning an error (other than [ErrCancelled]), or panicking, is
// logged against its [Handle] and otherwise discarded: it never reaches the
// dispatcher or sibling coroutines.
package coroutine
