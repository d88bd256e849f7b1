//go:build linux

package eventloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// poller manages readiness registration using epoll (Linux).
//
// Unlike a general purpose poller, it is only ever touched by the dispatcher
// goroutine, so it carries no locks.
type poller struct {
	epfd     int
	eventBuf []unix.EpollEvent
	active   bool
}

// open initializes the epoll instance.
func (p *poller) open(maxEvents int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.active = true
	p.eventBuf = make([]unix.EpollEvent, maxEvents)
	return nil
}

// close closes the epoll instance.
func (p *poller) close() error {
	if !p.active {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	p.active = false
	return err
}

// add registers fd for the given interest set.
func (p *poller) add(fd int, events Events) error {
	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// remove unregisters fd. The events argument is unused on Linux.
func (p *poller) remove(fd int, _ Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeout, appending ready descriptors to ready.
func (p *poller) wait(timeout time.Duration, ready []readiness) ([]readiness, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return ready, nil
		}
		return ready, err
	}
	for i := 0; i < n; i++ {
		ready = append(ready, readiness{
			fd:     int(p.eventBuf[i].Fd),
			events: epollToEvents(p.eventBuf[i].Events),
		})
	}
	return ready, nil
}

// eventsToEpoll converts Events to epoll event flags.
func eventsToEpoll(events Events) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to Events.
func epollToEvents(epollEvents uint32) Events {
	var events Events
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHangup
	}
	return events
}
