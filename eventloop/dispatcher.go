package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Dispatcher is a single-threaded reactor, multiplexing fd readiness, timers,
// and idle callbacks into ordered callback invocations.
//
// All methods other than [Dispatcher.Interrupt] must be called from the
// goroutine driving the dispatcher (or, before it is started, the goroutine
// that owns it). Callbacks run on that goroutine, and may freely register or
// cancel watches.
type Dispatcher struct {
	logger      *logiface.Logger[logiface.Event]
	pollTimeout time.Duration

	poller poller

	watches map[int]*watch     // fd -> watch
	byID    map[WatchID]*watch // every pending watch, including timer-only
	timers  timerHeap
	nextID  WatchID
	nextSeq uint64

	idles     []Callback
	idleSpare []Callback

	ready []readiness
	fired []*watch

	running  bool
	ticking  bool
	stopping bool
	closed   bool

	// interrupted is the only state touched off the dispatcher goroutine.
	interrupted atomic.Bool
	wakeMu      sync.Mutex
	wakeR       int
	wakeW       int
}

// Stats is a snapshot of pending work, see [Dispatcher.Pending].
type Stats struct {
	// Timers is the number of watches with a deadline.
	Timers int
	// Idle is the number of queued idle callbacks.
	Idle int
	// Watches is the total number of pending watches, with or without an fd.
	Watches int
}

// New creates a Dispatcher, allocating its poller and wake-up descriptor.
func New(opts ...Option) (*Dispatcher, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		logger:      cfg.logger,
		pollTimeout: cfg.pollTimeout,
		watches:     make(map[int]*watch),
		byID:        make(map[WatchID]*watch),
		ready:       make([]readiness, 0, cfg.maxEvents),
		wakeR:       -1,
		wakeW:       -1,
	}

	if err := d.poller.open(cfg.maxEvents); err != nil {
		return nil, fmt.Errorf("eventloop: open poller: %w", err)
	}

	d.wakeR, d.wakeW, err = createWakeFd()
	if err != nil {
		_ = d.poller.close()
		return nil, fmt.Errorf("eventloop: create wake fd: %w", err)
	}

	if err := d.poller.add(d.wakeR, EventRead); err != nil {
		d.closeFDs()
		return nil, fmt.Errorf("eventloop: register wake fd: %w", err)
	}

	return d, nil
}

// Call queues cb to run once, with [EventIdle], on the next iteration.
// Idle callbacks run in FIFO order. A callback queued while the idle queue is
// being drained runs on the following iteration, never the current one.
func (d *Dispatcher) Call(cb Callback) {
	if cb == nil {
		return
	}
	d.idles = append(d.idles, cb)
}

// Watch registers a one-shot interest in fd becoming ready for any of mask,
// bounded by timeout. Pass [NoFD] and a zero mask for a pure timer, or a
// non-positive timeout for no deadline. At least one of the two must apply.
//
// The callback is invoked exactly once, with the readiness bits, or with
// [EventTimeout] if the deadline elapsed first, unless the watch is removed
// via [Dispatcher.Cancel]. Watching an fd that is already watched fails with
// a [*SetupError], leaving the existing watch untouched.
func (d *Dispatcher) Watch(cb Callback, fd int, mask Events, timeout time.Duration) (WatchID, error) {
	if d.closed {
		return 0, ErrDispatcherClosed
	}
	if cb == nil {
		return 0, &SetupError{Reason: "nil callback", FD: fd}
	}

	hasFD := fd >= 0
	mask &= interestMask
	switch {
	case hasFD && mask == 0:
		return 0, &SetupError{Reason: "descriptor given without an event mask", FD: fd}
	case !hasFD && mask != 0:
		return 0, &SetupError{Reason: "event mask given without a descriptor", FD: NoFD}
	case !hasFD && timeout <= 0:
		return 0, &SetupError{Reason: "neither descriptor nor timeout given", FD: NoFD}
	}

	if hasFD {
		if fd == d.wakeR {
			return 0, &SetupError{Reason: "descriptor is reserved", FD: fd}
		}
		if _, ok := d.watches[fd]; ok {
			return 0, &SetupError{Reason: "descriptor already watched", FD: fd}
		}
		if err := d.poller.add(fd, mask); err != nil {
			return 0, fmt.Errorf("eventloop: register fd %d: %w", fd, err)
		}
	} else {
		fd = NoFD
	}

	d.nextID++
	w := &watch{
		id:    d.nextID,
		cb:    cb,
		fd:    fd,
		mask:  mask,
		index: -1,
	}

	if timeout > 0 {
		d.nextSeq++
		w.deadline = time.Now().Add(timeout)
		w.seq = d.nextSeq
		heap.Push(&d.timers, w)
	}
	if hasFD {
		d.watches[fd] = w
	}
	d.byID[w.id] = w

	return w.id, nil
}

// WatchTimeout registers a timer-only watch, see [Dispatcher.Watch].
func (d *Dispatcher) WatchTimeout(cb Callback, timeout time.Duration) (WatchID, error) {
	return d.Watch(cb, NoFD, 0, timeout)
}

// Cancel removes a pending watch without invoking it, reporting whether it
// was still pending.
func (d *Dispatcher) Cancel(id WatchID) bool {
	w, ok := d.byID[id]
	if !ok {
		return false
	}
	d.detach(w)
	return true
}

// Watching reports whether fd currently has a pending watch.
func (d *Dispatcher) Watching(fd int) bool {
	_, ok := d.watches[fd]
	return ok
}

// Pending returns a snapshot of outstanding work.
func (d *Dispatcher) Pending() Stats {
	return Stats{
		Timers:  len(d.timers),
		Idle:    len(d.idles),
		Watches: len(d.byID),
	}
}

func (d *Dispatcher) hasWork() bool {
	return len(d.idles) != 0 || len(d.byID) != 0
}

// detach removes w from every structure, unregistering its fd.
func (d *Dispatcher) detach(w *watch) {
	delete(d.byID, w.id)
	if w.hasTimer() {
		heap.Remove(&d.timers, w.index)
	}
	if w.fd >= 0 {
		if d.watches[w.fd] == w {
			delete(d.watches, w.fd)
		}
		if err := d.poller.remove(w.fd, w.mask); err != nil {
			// the fd may already be closed, which drops it from the poller
			d.logger.Debug().
				Int(`fd`, w.fd).
				Err(err).
				Log(`eventloop: unregister failed`)
		}
	}
}

// Tick runs a single iteration:
//
//  1. every idle callback queued before the iteration began
//  2. one poll, bounded by the earliest deadline
//  3. callbacks of ready descriptors
//  4. callbacks of expired timers, in deadline order
func (d *Dispatcher) Tick() error {
	if d.closed {
		return ErrDispatcherClosed
	}
	if d.ticking {
		return ErrAlreadyRunning
	}
	d.ticking = true
	defer func() { d.ticking = false }()

	d.runIdle()

	if err := d.poll(d.nextTimeout()); err != nil {
		return err
	}

	d.runTimers(time.Now())

	return nil
}

// runIdle drains a snapshot of the idle queue.
func (d *Dispatcher) runIdle() {
	if len(d.idles) == 0 {
		return
	}
	batch := d.idles
	d.idles = d.idleSpare[:0]
	for i, cb := range batch {
		batch[i] = nil
		d.invoke(cb, EventIdle)
	}
	d.idleSpare = batch[:0]
}

// nextTimeout computes how long the poll may block.
func (d *Dispatcher) nextTimeout() time.Duration {
	if len(d.idles) != 0 {
		// work queued during the drain must not wait out a full poll
		return 0
	}
	if d.interrupted.Load() || d.stopping {
		return 0
	}
	if len(d.byID) == 0 {
		// no watch remains to end the poll, so hasWork must be rechecked now
		return 0
	}
	next := d.timers.peek()
	if next == nil {
		return d.pollTimeout
	}
	timeout := time.Until(next.deadline)
	if timeout < 0 {
		return 0
	}
	if timeout > d.pollTimeout {
		return d.pollTimeout
	}
	return timeout
}

// poll waits for readiness, then invokes the callback of each ready watch.
func (d *Dispatcher) poll(timeout time.Duration) error {
	var err error
	d.ready, err = d.poller.wait(timeout, d.ready[:0])
	if err != nil {
		return fmt.Errorf("eventloop: poll: %w", err)
	}

	for _, r := range d.ready {
		if r.fd == d.wakeR {
			drainWakeFd(d.wakeR)
			continue
		}
		if w, ok := d.watches[r.fd]; ok {
			d.fired = append(d.fired, w)
		}
	}

	fired := d.fired
	for i, w := range fired {
		fired[i] = nil
		// an earlier callback may have cancelled it
		if d.byID[w.id] != w {
			continue
		}
		events := d.readyEvents(w)
		d.detach(w)
		d.invoke(w.cb, events)
	}
	d.fired = fired[:0]

	return nil
}

// readyEvents returns the events reported for w by the last poll.
func (d *Dispatcher) readyEvents(w *watch) Events {
	for _, r := range d.ready {
		if r.fd == w.fd {
			return r.events
		}
	}
	return 0
}

// runTimers invokes every timer with a deadline at or before now.
func (d *Dispatcher) runTimers(now time.Time) {
	for {
		w := d.timers.peek()
		if w == nil || w.deadline.After(now) {
			return
		}
		d.detach(w)
		d.invoke(w.cb, EventTimeout)
	}
}

// invoke runs cb, logging and swallowing any panic.
func (d *Dispatcher) invoke(cb Callback, events Events) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Err().
				Err(PanicError{Value: r}).
				Stringer(`events`, events).
				Log(`eventloop: callback panicked`)
		}
	}()
	cb(events)
}

// Start runs the dispatcher until no work remains, [Dispatcher.Stop] is
// called, or ctx is done. A Stop issued before Start is honored: Start then
// returns without iterating.
//
// Start returns ctx.Err() if the context ended the run, otherwise the first
// poll error, or nil.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.closed {
		return ErrDispatcherClosed
	}
	if d.running || d.ticking {
		return ErrAlreadyRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.running = true
	defer func() {
		d.running = false
		d.stopping = false
		d.interrupted.Store(false)
	}()

	stop := context.AfterFunc(ctx, d.Interrupt)
	defer stop()

	d.logger.Debug().Log(`eventloop: started`)
	defer d.logger.Debug().Log(`eventloop: stopped`)

	for !d.stopping && !d.interrupted.Load() && d.hasWork() {
		if err := d.Tick(); err != nil {
			return err
		}
	}

	return ctx.Err()
}

// Stop requests that [Dispatcher.Start] return once the in-flight iteration
// completes.
func (d *Dispatcher) Stop() {
	d.stopping = true
}

// Running reports whether [Dispatcher.Start] is in progress.
func (d *Dispatcher) Running() bool {
	return d.running
}

// Interrupt is the goroutine-safe equivalent of [Dispatcher.Stop], waking a
// blocked poll.
func (d *Dispatcher) Interrupt() {
	d.interrupted.Store(true)
	d.wakeMu.Lock()
	defer d.wakeMu.Unlock()
	if d.wakeW < 0 {
		return
	}
	if err := signalWakeFd(d.wakeW); err != nil {
		d.logger.Warning().
			Err(err).
			Log(`eventloop: wake-up failed`)
	}
}

// Close releases the poller and wake-up descriptor. Pending watches are
// discarded without being invoked; their descriptors are not closed.
func (d *Dispatcher) Close() error {
	if d.closed {
		return nil
	}
	if d.running {
		return ErrAlreadyRunning
	}
	d.closed = true
	for _, w := range d.byID {
		if w.fd >= 0 {
			_ = d.poller.remove(w.fd, w.mask)
		}
	}
	clear(d.byID)
	clear(d.watches)
	d.timers = nil
	d.idles = nil
	return d.closeFDs()
}

func (d *Dispatcher) closeFDs() error {
	err := d.poller.close()
	d.wakeMu.Lock()
	defer d.wakeMu.Unlock()
	if d.wakeR >= 0 {
		_ = closeFD(d.wakeR)
	}
	if d.wakeW >= 0 && d.wakeW != d.wakeR {
		_ = closeFD(d.wakeW)
	}
	d.wakeR, d.wakeW = -1, -1
	return err
}
