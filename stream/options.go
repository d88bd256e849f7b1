package stream

import (
	"errors"
	"fmt"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

const (
	// DefaultChunkSize bounds a single transfer to or from the OS.
	DefaultChunkSize = 4096
	// MaxChunkSize is the upper bound of the chunk size.
	MaxChunkSize = 64 * 1024
	// DefaultBufferSize is the default bound of each session buffer, which is
	// further limited to eight chunks.
	DefaultBufferSize = 256 * 1024
	// outputCapFactor multiplies the buffer size to give the hard cap on
	// staged output.
	outputCapFactor = 4
	// maxSendStalls is the number of consecutive zero progress rounds
	// tolerated by WriteAll.
	maxSendStalls = 8
)

// DefaultAcceptRetryRates limits how often transient accept failures (such
// as descriptor exhaustion) are retried immediately, per listener.
var DefaultAcceptRetryRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 120,
}

// streamOptions holds configuration options for sessions and listeners.
type streamOptions struct {
	logger           *logiface.Logger[logiface.Event]
	chunkSize        int
	bufferSize       int
	acceptRetryRates map[time.Duration]int
}

// Option configures sessions, and the listeners that create them.
type Option interface {
	applyStream(*streamOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyStreamFunc func(*streamOptions) error
}

func (o *optionImpl) applyStream(opts *streamOptions) error {
	return o.applyStreamFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *streamOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithChunkSize bounds any single read from, or write to, the OS. Values
// outside [1, MaxChunkSize] are clamped. Defaults to [DefaultChunkSize].
func WithChunkSize(n int) Option {
	return &optionImpl{func(opts *streamOptions) error {
		opts.chunkSize = n
		return nil
	}}
}

// WithBufferSize bounds each of the input and output buffers. Values outside
// [1, 8*chunk size] are clamped. Defaults to [DefaultBufferSize].
func WithBufferSize(n int) Option {
	return &optionImpl{func(opts *streamOptions) error {
		opts.bufferSize = n
		return nil
	}}
}

// WithAcceptRetryRates configures the sliding window limits applied to
// immediate retries of transient accept failures. Once exceeded, the
// listener sleeps until the limiter allows another attempt. Defaults to
// [DefaultAcceptRetryRates].
//
// Counts must grow with the window, while the rate per unit of time shrinks,
// as required by [catrate.NewLimiter].
func WithAcceptRetryRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *streamOptions) error {
		if _, err := newAcceptLimiter(rates); err != nil {
			return err
		}
		opts.acceptRetryRates = rates
		return nil
	}}
}

// newAcceptLimiter converts the panic catrate raises for invalid rates into
// an error.
func newAcceptLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, errors.New("stream: accept retry rates must not be empty")
	}
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf("stream: invalid accept retry rates: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// resolveOptions applies Option instances to streamOptions, clamping sizes.
func resolveOptions(opts []Option) (*streamOptions, error) {
	cfg := &streamOptions{
		chunkSize:        DefaultChunkSize,
		bufferSize:       DefaultBufferSize,
		acceptRetryRates: DefaultAcceptRetryRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyStream(cfg); err != nil {
			return nil, err
		}
	}
	cfg.chunkSize = clamp(cfg.chunkSize, 1, MaxChunkSize, DefaultChunkSize)
	cfg.bufferSize = clamp(cfg.bufferSize, 1, 8*cfg.chunkSize, DefaultBufferSize)
	return cfg, nil
}

// clamp bounds v to [lo, hi], substituting def for zero.
func clamp(v, lo, hi, def int) int {
	if v == 0 {
		v = def
	}
	return min(max(v, lo), hi)
}
