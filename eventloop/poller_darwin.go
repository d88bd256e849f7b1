//go:build darwin

package eventloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// poller manages readiness registration using kqueue (Darwin).
//
// Read and write interest are separate kqueue filters, so a single fd may
// produce two kevents per poll; wait merges them.
type poller struct {
	kq       int
	active   bool
	eventBuf []unix.Kevent_t
	merged   map[int]int // fd -> index into the ready slice, reused per wait
}

// open initializes the kqueue instance.
func (p *poller) open(maxEvents int) error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.active = true
	p.eventBuf = make([]unix.Kevent_t, maxEvents)
	p.merged = make(map[int]int)
	return nil
}

// close closes the kqueue instance.
func (p *poller) close() error {
	if !p.active {
		return nil
	}
	err := unix.Close(p.kq)
	p.kq = -1
	p.active = false
	return err
}

// add registers fd for the given interest set.
func (p *poller) add(fd int, events Events) error {
	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

// remove unregisters the filters previously added for fd.
func (p *poller) remove(fd int, events Events) error {
	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

// wait blocks for up to timeout, appending ready descriptors to ready.
func (p *poller) wait(timeout time.Duration, ready []readiness) ([]readiness, error) {
	ts := unix.NsecToTimespec(int64(timeoutMillis(timeout)) * int64(time.Millisecond))

	n, err := unix.Kevent(p.kq, nil, p.eventBuf, &ts)
	if err != nil {
		if err == unix.EINTR {
			return ready, nil
		}
		return ready, err
	}

	clear(p.merged)
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		events := keventToEvents(&p.eventBuf[i])
		if j, ok := p.merged[fd]; ok {
			ready[j].events |= events
			continue
		}
		p.merged[fd] = len(ready)
		ready = append(ready, readiness{fd: fd, events: events})
	}
	return ready, nil
}

// eventsToKevents converts Events to kqueue kevent structures.
func eventsToKevents(fd int, events Events, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t

	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}

	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}

	return kevents
}

// keventToEvents converts kqueue event to Events.
func keventToEvents(kev *unix.Kevent_t) Events {
	var events Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
