package squall

import (
	"os"
	"syscall"

	"github.com/joeycumines/go-squall/coroutine"
	"github.com/joeycumines/go-squall/eventloop"
	"github.com/joeycumines/go-squall/stream"
	"github.com/joeycumines/logiface"
)

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	logger            *logiface.Logger[logiface.Event]
	signals           []os.Signal
	signalsConfigured bool
	dispatcherOptions []eventloop.Option
	schedulerOptions  []coroutine.Option
	streamOptions     []stream.Option
}

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithLogger attaches a structured logger, shared by the dispatcher, the
// scheduler, and every server started by the runtime. A nil logger disables
// logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSignals sets the signals treated as a request to stop, while
// [Runtime.Start] is running. Defaults to [os.Interrupt] and SIGTERM.
// Calling it with no signals disables signal handling.
func WithSignals(signals ...os.Signal) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.signals = signals
		opts.signalsConfigured = true
		return nil
	}}
}

// WithDispatcherOptions configures the underlying dispatcher. These are
// applied after the runtime's own logger.
func WithDispatcherOptions(options ...eventloop.Option) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.dispatcherOptions = append(opts.dispatcherOptions, options...)
		return nil
	}}
}

// WithSchedulerOptions configures the underlying scheduler.
func WithSchedulerOptions(options ...coroutine.Option) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.schedulerOptions = append(opts.schedulerOptions, options...)
		return nil
	}}
}

// WithStreamOptions sets defaults for every server started by the runtime,
// e.g. chunk and buffer sizes. Options passed to [Runtime.StartServer] take
// precedence.
func WithStreamOptions(options ...stream.Option) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.streamOptions = append(opts.streamOptions, options...)
		return nil
	}}
}

// resolveOptions applies Option instances to runtimeOptions.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.signalsConfigured {
		cfg.signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return cfg, nil
}
