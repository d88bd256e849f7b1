// Package stream implements buffered, deadline-bounded byte streams over
// non-blocking sockets, and a TCP listener that serves each accepted
// connection from its own coroutine.
//
// A [Session] is built solely from [coroutine.Coroutine.Wait]: it never polls
// the OS directly, so every read or write that cannot complete immediately
// suspends only the calling coroutine.
//
// Each session buffers input and output separately, both bounded by the
// configured buffer size, and never moves more than the chunk size to or from
// the OS at once. [Session.Write] admits only what fits in the output buffer
// and reports how much was admitted, applying backpressure to the caller.
//
// [Listen] (or [StartServer]) binds every address a host resolves to,
// tolerating failures of individual addresses, and spawns an acceptor
// coroutine per listening socket.
package stream
