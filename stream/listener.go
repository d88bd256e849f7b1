//go:build linux || darwin

package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-squall/coroutine"
	"github.com/joeycumines/go-squall/eventloop"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// Handler serves a single connection, from the body of a dedicated
// coroutine. The session is closed once it returns.
type Handler func(s *Session) error

// Listener is a bound, listening socket, served by an acceptor coroutine.
type Listener struct {
	sched   *coroutine.Scheduler
	handler Handler
	cfg     *streamOptions
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	accept  func(fd int) (int, unix.Sockaddr, error)

	fd     int
	addr   netip.AddrPort
	handle coroutine.Handle
}

// Handle returns the handle of the acceptor coroutine.
func (l *Listener) Handle() coroutine.Handle { return l.handle }

// Addr returns the bound address, including the port chosen by the OS if
// port 0 was requested.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// Listen binds every address host resolves to, spawning an acceptor
// coroutine per bound socket. Each accepted connection is served by handler,
// in a new coroutine owning the connection.
//
// An empty host listens on every IPv4 and IPv6 address. A failure to set up
// any one address is logged and skipped: only if none could be bound does
// Listen fail, with [ErrNoListeners]. A non-positive backlog uses the system
// maximum.
func Listen(sched *coroutine.Scheduler, handler Handler, host string, port int, backlog int, opts ...Option) ([]*Listener, error) {
	if sched == nil {
		return nil, errors.New("stream: nil scheduler")
	}
	if handler == nil {
		return nil, errors.New("stream: nil handler")
	}
	if port < 0 || port > 0xFFFF {
		return nil, fmt.Errorf("stream: invalid port %d", port)
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	candidates, err := resolveListenAddrs(context.Background(), host, uint16(port))
	if err != nil {
		cfg.logger.Err().
			Str(`host`, host).
			Err(err).
			Log(`stream: cannot resolve listen address`)
		return nil, fmt.Errorf("%w: resolve %q: %w", ErrNoListeners, host, err)
	}

	limiter, err := newAcceptLimiter(cfg.acceptRetryRates)
	if err != nil {
		return nil, err
	}

	var listeners []*Listener
	for _, candidate := range candidates {
		fd, addr, err := bindListener(candidate, backlog)
		if err != nil {
			cfg.logger.Warning().
				Str(`addr`, candidate.String()).
				Err(err).
				Log(`stream: cannot set up listener`)
			continue
		}

		l := &Listener{
			sched:   sched,
			handler: handler,
			cfg:     cfg,
			logger:  cfg.logger,
			limiter: limiter,
			accept:  acceptConn,
			fd:      fd,
			addr:    addr,
		}
		l.handle, err = sched.Spawn(l.serve)
		if err != nil {
			_ = unix.Close(fd)
			cfg.logger.Err().
				Str(`addr`, addr.String()).
				Err(err).
				Log(`stream: cannot spawn acceptor`)
			continue
		}
		listeners = append(listeners, l)
	}

	if len(listeners) == 0 {
		cfg.logger.Err().
			Str(`host`, host).
			Int(`port`, port).
			Log(`stream: cannot start server`)
		return nil, ErrNoListeners
	}

	return listeners, nil
}

// StartServer is [Listen], returning the handles of the acceptor coroutines.
func StartServer(sched *coroutine.Scheduler, handler Handler, host string, port int, backlog int, opts ...Option) ([]coroutine.Handle, error) {
	listeners, err := Listen(sched, handler, host, port, backlog, opts...)
	if err != nil {
		return nil, err
	}
	handles := make([]coroutine.Handle, len(listeners))
	for i, l := range listeners {
		handles[i] = l.handle
	}
	return handles, nil
}

// resolveListenAddrs returns every candidate address for host.
func resolveListenAddrs(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	if host == "" {
		return []netip.AddrPort{
			netip.AddrPortFrom(netip.IPv4Unspecified(), port),
			netip.AddrPortFrom(netip.IPv6Unspecified(), port),
		}, nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(addr.Unmap(), port)}, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	seen := make(map[netip.Addr]struct{}, len(addrs))
	candidates := make([]netip.AddrPort, 0, len(addrs))
	for _, addr := range addrs {
		addr = addr.Unmap()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		candidates = append(candidates, netip.AddrPortFrom(addr, port))
	}
	return candidates, nil
}

// bindListener creates, binds, and listens on a socket for ap.
func bindListener(ap netip.AddrPort, backlog int) (fd int, addr netip.AddrPort, err error) {
	family, sa := addrPortToSockaddr(ap)

	fd, err = newSocket(family)
	if err != nil {
		return -1, addr, fmt.Errorf("create socket: %w", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fd, addr, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if family == unix.AF_INET6 {
		// lets 0.0.0.0 and :: share a port
		if err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return fd, addr, fmt.Errorf("set IPV6_V6ONLY: %w", err)
		}
	}
	if err = unix.Bind(fd, sa); err != nil {
		return fd, addr, fmt.Errorf("bind: %w", err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return fd, addr, fmt.Errorf("listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fd, addr, fmt.Errorf("getsockname: %w", err)
	}
	return fd, sockaddrToAddrPort(bound), nil
}

// serve is the acceptor coroutine. It owns the listening socket, closing it
// on exit.
func (l *Listener) serve(co *coroutine.Coroutine) error {
	l.logger.Info().
		Str(`addr`, l.addr.String()).
		Stringer(`handle`, co.Handle()).
		Log(`stream: listening`)

	defer func() {
		_ = unix.Close(l.fd)
		l.logger.Debug().
			Str(`addr`, l.addr.String()).
			Log(`stream: listener closed`)
	}()

	for {
		if _, err := co.Wait(l.fd, eventloop.EventRead, 0); err != nil {
			return err
		}

		fd, sa, err := l.accept(l.fd)
		if err != nil {
			if !isTransientAcceptError(err) {
				return fmt.Errorf("stream: accept on %s: %w", l.addr, err)
			}
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			l.logger.Warning().
				Limit().
				Str(`addr`, l.addr.String()).
				Err(err).
				Log(`stream: transient accept failure`)
			if next, ok := l.limiter.Allow(l); !ok {
				if _, err := co.Sleep(time.Until(next)); err != nil {
					return err
				}
			}
			continue
		}

		l.spawnSession(fd, sockaddrToAddrPort(sa))
	}
}

func (l *Listener) spawnSession(fd int, remote netip.AddrPort) {
	_, err := l.sched.Spawn(func(co *coroutine.Coroutine) error {
		return l.session(co, fd, remote)
	})
	if err != nil {
		_ = unix.Close(fd)
		l.logger.Warning().
			Str(`remote`, remote.String()).
			Err(err).
			Log(`stream: cannot spawn session`)
	}
}

// session is the body of a connection coroutine.
func (l *Listener) session(co *coroutine.Coroutine, fd int, remote netip.AddrPort) error {
	s := newSession(co, fd, remote, l.cfg)

	l.logger.Debug().
		Str(`remote`, remote.String()).
		Stringer(`handle`, co.Handle()).
		Log(`stream: accepted connection`)

	defer func() {
		if err := s.Close(); err != nil {
			l.logger.Debug().
				Str(`remote`, remote.String()).
				Err(err).
				Log(`stream: close failed`)
		}
		l.logger.Debug().
			Str(`remote`, remote.String()).
			Stringer(`handle`, co.Handle()).
			Log(`stream: closed connection`)
	}()

	err := l.handler(s)
	if errors.Is(err, ErrConnectionReset) {
		// the peer going away is routine
		return nil
	}
	return err
}

// isTransientAcceptError reports whether accept may succeed if retried.
func isTransientAcceptError(err error) bool {
	switch err {
	case unix.EMFILE,
		unix.ENFILE,
		unix.ENOBUFS,
		unix.ENOMEM,
		unix.ECONNABORTED,
		unix.EINTR,
		unix.EAGAIN:
		return true
	default:
		return false
	}
}
