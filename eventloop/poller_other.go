//go:build !linux && !darwin

package eventloop

import (
	"time"
)

type poller struct{}

func (p *poller) open(int) error { return ErrUnsupportedPlatform }

func (p *poller) close() error { return nil }

func (p *poller) add(int, Events) error { return ErrUnsupportedPlatform }

func (p *poller) remove(int, Events) error { return ErrUnsupportedPlatform }

func (p *poller) wait(time.Duration, []readiness) ([]readiness, error) {
	return nil, ErrUnsupportedPlatform
}
