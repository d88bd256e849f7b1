package coroutine

import (
	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithLogger attaches a structured logger, used to report coroutine
// lifecycle events and uncaught errors. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to schedulerOptions.
func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
