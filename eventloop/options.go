// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultPollTimeout is used when no deadline is pending.
const DefaultPollTimeout = time.Hour

// dispatcherOptions holds configuration options for Dispatcher creation.
type dispatcherOptions struct {
	logger      *logiface.Logger[logiface.Event]
	pollTimeout time.Duration
	maxEvents   int
}

// --- Dispatcher Options ---

// Option configures a Dispatcher instance.
type Option interface {
	applyDispatcher(*dispatcherOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyDispatcherFunc func(*dispatcherOptions) error
}

func (o *optionImpl) applyDispatcher(opts *dispatcherOptions) error {
	return o.applyDispatcherFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollTimeout sets how long a single poll may block when no deadline is
// pending. Defaults to [DefaultPollTimeout].
func WithPollTimeout(timeout time.Duration) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		if timeout <= 0 {
			return errors.New("eventloop: poll timeout must be positive")
		}
		opts.pollTimeout = timeout
		return nil
	}}
}

// WithMaxEvents bounds the number of readiness notifications retrieved by a
// single poll. Defaults to 256.
func WithMaxEvents(n int) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		if n <= 0 {
			return errors.New("eventloop: max events must be positive")
		}
		opts.maxEvents = n
		return nil
	}}
}

// resolveOptions applies Option instances to dispatcherOptions.
func resolveOptions(opts []Option) (*dispatcherOptions, error) {
	cfg := &dispatcherOptions{
		pollTimeout: DefaultPollTimeout,
		maxEvents:   256,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyDispatcher(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
