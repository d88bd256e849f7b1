// Package eventloop implements the event dispatcher: a single-threaded
// reactor that multiplexes file descriptor readiness, deadlines, and deferred
// (idle) work into ordered callback invocations.
//
// # Architecture
//
// A [Dispatcher] owns three sources of work:
//   - an idle queue, populated by [Dispatcher.Call]
//   - a set of watches, one per file descriptor at most, populated by
//     [Dispatcher.Watch]
//   - a min-heap of deadlines, populated by [Dispatcher.Watch] and
//     [Dispatcher.WatchTimeout]
//
// Each [Dispatcher.Tick] performs exactly one iteration, in strict order:
//  1. The idle queue is snapshot and drained, each callback receiving
//     [EventIdle]. Callbacks queued during the drain run on the next tick.
//  2. The poll timeout is computed from the earliest deadline (or the
//     configured default), and is forced to zero if idle work is pending.
//  3. The poller is waited on. Every ready descriptor has its watch, deadline
//     and poller registration removed, then its callback invoked with the
//     readiness mask.
//  4. Expired deadlines are drained in ascending order, each callback
//     receiving [EventTimeout].
//
// Watches are one-shot: a callback that wants more events must register
// again.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll
//   - macOS: kqueue
//
// Other platforms fail [New] with [ErrUnsupportedPlatform].
//
// # Thread Safety
//
// A Dispatcher is NOT safe for concurrent use. Every method must be called
// from the goroutine running [Dispatcher.Start] (or, before it starts, the
// goroutine that will), with the single exception of [Dispatcher.Interrupt],
// which may be called from anywhere.
//
// # Usage
//
//	d, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	_, _ = d.WatchTimeout(func(ev eventloop.Events) {
//	    fmt.Println("fired:", ev)
//	}, 100*time.Millisecond)
//
//	if err := d.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package eventloop
