package squall

import (
	"context"
	"errors"
	"os/signal"

	"github.com/joeycumines/go-squall/coroutine"
	"github.com/joeycumines/go-squall/eventloop"
	"github.com/joeycumines/go-squall/stream"
	"github.com/joeycumines/logiface"
)

// Runtime is the process-scoped context of a squall program: one dispatcher,
// the scheduler driving coroutines on it, and any servers started on the
// scheduler.
//
// A Runtime is not safe for concurrent use. Every method other than Stop
// must be called from the goroutine that calls Start, or from a coroutine
// body or callback running on the runtime.
type Runtime struct {
	dispatcher    *eventloop.Dispatcher
	scheduler     *coroutine.Scheduler
	logger        *logiface.Logger[logiface.Event]
	cfg           *runtimeOptions
	streamOptions []stream.Option
}

// New creates a runtime.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	dispatcher, err := eventloop.New(append([]eventloop.Option{eventloop.WithLogger(cfg.logger)}, cfg.dispatcherOptions...)...)
	if err != nil {
		return nil, err
	}

	scheduler, err := coroutine.New(dispatcher, append([]coroutine.Option{coroutine.WithLogger(cfg.logger)}, cfg.schedulerOptions...)...)
	if err != nil {
		_ = dispatcher.Close()
		return nil, err
	}

	return &Runtime{
		dispatcher:    dispatcher,
		scheduler:     scheduler,
		logger:        cfg.logger,
		cfg:           cfg,
		streamOptions: append([]stream.Option{stream.WithLogger(cfg.logger)}, cfg.streamOptions...),
	}, nil
}

// Dispatcher returns the underlying dispatcher.
func (r *Runtime) Dispatcher() *eventloop.Dispatcher { return r.dispatcher }

// Scheduler returns the underlying scheduler.
func (r *Runtime) Scheduler() *coroutine.Scheduler { return r.scheduler }

// Spawn schedules fn to run as a new coroutine. See [coroutine.Scheduler.Spawn].
func (r *Runtime) Spawn(fn coroutine.Func) (coroutine.Handle, error) {
	return r.scheduler.Spawn(fn)
}

// Start runs the runtime until there is no more work, [Runtime.Stop] is
// called, ctx is done, or one of the configured signals is received. Every
// coroutine still active is then cancelled, and its cleanup run, before
// Start returns.
//
// A received signal is a normal stop, and Start returns nil. Otherwise, the
// result is as per [eventloop.Dispatcher.Start].
func (r *Runtime) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx := ctx
	if len(r.cfg.signals) != 0 {
		var stop context.CancelFunc
		runCtx, stop = signal.NotifyContext(ctx, r.cfg.signals...)
		defer stop()
	}

	r.logger.Debug().
		Int(`signals`, len(r.cfg.signals)).
		Log(`squall: runtime started`)

	err := r.scheduler.Run(runCtx)
	if err != nil && ctx.Err() == nil && runCtx.Err() != nil && errors.Is(err, runCtx.Err()) {
		r.logger.Info().
			Log(`squall: stop signal received`)
		err = nil
	}

	r.logger.Debug().
		Err(err).
		Log(`squall: runtime stopped`)

	return err
}

// Stop requests that Start return once the current iteration completes. It
// may be called from any goroutine.
func (r *Runtime) Stop() {
	r.dispatcher.Interrupt()
}

// Close cancels every coroutine still active, running its cleanup as
// [Runtime.Start] does on exit, then releases the runtime's OS resources. It
// fails with [eventloop.ErrAlreadyRunning] if called while Start is running.
func (r *Runtime) Close() error {
	if r.dispatcher.Running() {
		return eventloop.ErrAlreadyRunning
	}
	r.scheduler.CancelAll()
	return r.dispatcher.Close()
}
