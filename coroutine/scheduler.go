package coroutine

import (
	"context"
	"errors"
	"slices"

	"github.com/joeycumines/go-squall/eventloop"
	"github.com/joeycumines/logiface"
)

// Scheduler owns the active set of coroutines, and drives them from the
// callbacks of a single [eventloop.Dispatcher].
//
// Like the dispatcher, a Scheduler is not safe for concurrent use: it must
// only be used from the dispatcher goroutine, or from the body of one of its
// coroutines (which run in strict alternation with that goroutine).
type Scheduler struct {
	dispatcher *eventloop.Dispatcher
	logger     *logiface.Logger[logiface.Event]

	active map[Handle]*Coroutine
	// stack holds the handles of running coroutines, innermost last.
	stack        []Handle
	next         Handle
	shuttingDown bool
}

// resumption is delivered to a coroutine at its suspension point.
type resumption struct {
	events eventloop.Events
	err    error
}

// New creates a Scheduler driven by d.
func New(d *eventloop.Dispatcher, opts ...Option) (*Scheduler, error) {
	if d == nil {
		return nil, ErrNilDispatcher
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		dispatcher: d,
		logger:     cfg.logger,
		active:     make(map[Handle]*Coroutine),
	}, nil
}

// Dispatcher returns the dispatcher driving the scheduler.
func (s *Scheduler) Dispatcher() *eventloop.Dispatcher { return s.dispatcher }

// Spawn creates a coroutine, returning its handle. The body of fn starts on
// the next dispatcher iteration, never synchronously.
func (s *Scheduler) Spawn(fn Func) (Handle, error) {
	if fn == nil {
		return 0, ErrNilFunc
	}
	if s.shuttingDown {
		return 0, ErrShuttingDown
	}

	s.next++
	co := &Coroutine{
		sched:  s,
		fn:     fn,
		handle: s.next,
		resume: make(chan resumption),
		yield:  make(chan struct{}),
	}
	s.active[co.handle] = co

	s.dispatcher.Call(func(events eventloop.Events) {
		// CancelAll may have started it already
		if co.state != StateCreated {
			return
		}
		s.drive(co, resumption{events: events})
	})

	s.logger.Trace().
		Stringer(`handle`, co.handle).
		Log(`coroutine: spawned`)

	return co.handle, nil
}

// Wrap adapts fn into a spawning function: each call of the result spawns a
// coroutine running fn with the given argument.
func Wrap[T any](s *Scheduler, fn func(co *Coroutine, arg T) error) func(arg T) (Handle, error) {
	return func(arg T) (Handle, error) {
		if fn == nil {
			return 0, ErrNilFunc
		}
		return s.Spawn(func(co *Coroutine) error {
			return fn(co, arg)
		})
	}
}

// Current returns the handle of the innermost running coroutine.
func (s *Scheduler) Current() (Handle, bool) {
	if len(s.stack) == 0 {
		return 0, false
	}
	return s.stack[len(s.stack)-1], true
}

// Active returns the handles of every coroutine that has not yet terminated,
// in ascending order.
func (s *Scheduler) Active() []Handle {
	handles := make([]Handle, 0, len(s.active))
	for h := range s.active {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}

// Lookup returns the active coroutine identified by h.
func (s *Scheduler) Lookup(h Handle) (*Coroutine, bool) {
	co, ok := s.active[h]
	return co, ok
}

// Switch resumes the suspended coroutine h, which observes events as the
// result of its pending Sleep or Wait. Any registration it was waiting on is
// discarded.
func (s *Scheduler) Switch(h Handle, events eventloop.Events) error {
	co, err := s.suspended(h)
	if err != nil {
		return err
	}
	co.disarm()
	s.resumeWith(co, resumption{events: events})
	return nil
}

// Throw resumes the suspended coroutine h, failing its pending Sleep or Wait
// with err. Throwing [ErrCancelled] (or a nil err, which is equivalent)
// cancels the coroutine.
func (s *Scheduler) Throw(h Handle, err error) error {
	co, e := s.suspended(h)
	if e != nil {
		return e
	}
	if err == nil {
		err = ErrCancelled
	}
	if errors.Is(err, ErrCancelled) {
		co.cancelled = true
		co.cancelPending = false
	}
	co.disarm()
	s.resumeWith(co, resumption{events: eventloop.EventCleanup, err: err})
	return nil
}

// Cancel requests cancellation of h. A suspended coroutine is resumed with
// [ErrCancelled] on the next dispatcher iteration, in place of whatever it
// was waiting for. A coroutine that is running, or has not yet started,
// observes the cancellation at its next suspension point.
func (s *Scheduler) Cancel(h Handle) error {
	co, ok := s.active[h]
	if !ok {
		return ErrUnknownHandle
	}
	if co.cancelled || co.cancelPending {
		return nil
	}
	co.cancelPending = true
	if co.state == StateSuspended {
		if co.watch != 0 {
			s.dispatcher.Cancel(co.watch)
			co.watch = 0
		}
		s.dispatcher.Call(co.wake(co.seq))
	}
	return nil
}

// CancelAll cancels every active coroutine, synchronously driving each one
// to its suspension point so that its cleanup path runs. Coroutines that
// were spawned but never started are started with cancellation already in
// effect. Spawn fails with [ErrShuttingDown] for the duration.
//
// CancelAll must not be called from a coroutine body.
func (s *Scheduler) CancelAll() {
	s.shuttingDown = true
	defer func() { s.shuttingDown = false }()

	for _, h := range s.Active() {
		co, ok := s.active[h]
		if !ok {
			continue
		}
		switch co.state {
		case StateCreated, StateSuspended:
			co.disarm()
			co.cancelled = true
			co.cancelPending = false
			s.drive(co, resumption{events: eventloop.EventCleanup, err: ErrCancelled})
		case StateRunning:
			co.cancelPending = true
		}
	}
}

// Run starts the dispatcher (see [eventloop.Dispatcher.Start]), and
// cancels every remaining coroutine once it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.CancelAll()
	return s.dispatcher.Start(ctx)
}

func (s *Scheduler) suspended(h Handle) (*Coroutine, error) {
	co, ok := s.active[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if co.state != StateSuspended {
		return nil, ErrNotSuspended
	}
	return co, nil
}

// resumeWith drives co, substituting a pending cancellation for r.
func (s *Scheduler) resumeWith(co *Coroutine, r resumption) {
	if co.cancelPending {
		co.cancelPending = false
		co.cancelled = true
		r = resumption{events: eventloop.EventCleanup, err: ErrCancelled}
	}
	s.drive(co, r)
}

// drive runs co until it next suspends or terminates. The resumption is
// ignored if co has not started.
func (s *Scheduler) drive(co *Coroutine, r resumption) {
	s.stack = append(s.stack, co.handle)

	if co.state == StateCreated {
		co.state = StateRunning
		s.logger.Debug().
			Stringer(`handle`, co.handle).
			Log(`coroutine: started`)
		go co.main()
	} else {
		co.state = StateRunning
		co.resume <- r
	}
	<-co.yield

	s.stack = s.stack[:len(s.stack)-1]

	if co.state == StateTerminated {
		s.release(co)
	}
}

// release removes a terminated coroutine from the active set.
func (s *Scheduler) release(co *Coroutine) {
	delete(s.active, co.handle)

	switch err := co.err; {
	case err == nil:
		s.logger.Debug().
			Stringer(`handle`, co.handle).
			Log(`coroutine: terminated`)
	case errors.Is(err, ErrCancelled):
		s.logger.Debug().
			Stringer(`handle`, co.handle).
			Log(`coroutine: terminated by cancellation`)
	default:
		s.logger.Err().
			Stringer(`handle`, co.handle).
			Err(err).
			Log(`coroutine: terminated by uncaught error`)
	}
}
