// Package squall is a single-threaded, cooperative runtime for network
// services built on non-blocking sockets.
//
// It is composed of three layers, each usable on its own:
//   - [eventloop]: a reactor dispatching descriptor readiness, deadlines,
//     and idle work to callbacks
//   - [coroutine]: a scheduler running straight-line functions as
//     coroutines, suspended on the reactor
//   - [stream]: buffered, deadline-bounded socket sessions, and TCP
//     listeners serving each connection from its own coroutine
//
// A [Runtime] wires the layers together, and adds process-level concerns:
// signal handling, and cancellation of every coroutine on shutdown.
//
// Exactly one coroutine, or the dispatcher itself, executes at any time.
// None of the runtime state is guarded by locks, and nothing other than
// [Runtime.Stop] may be called from another goroutine.
package squall
