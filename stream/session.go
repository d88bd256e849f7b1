//go:build linux || darwin

package stream

import (
	"bytes"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/joeycumines/go-squall/coroutine"
	"github.com/joeycumines/go-squall/eventloop"
	"golang.org/x/sys/unix"
)

// Session is buffered, deadline-bounded I/O over a non-blocking stream
// socket, owned by a single coroutine.
//
// Every I/O method must be called from the body of the owning coroutine, and
// fails with [coroutine.ErrNotRunning] otherwise. Timeouts are relative, and
// bound the whole call: a read that needs several round trips to the OS
// shares one deadline across them. A non-positive timeout means no deadline.
type Session struct {
	co     *coroutine.Coroutine
	fd     int
	remote netip.AddrPort

	in  []byte
	out []byte

	chunkSize  int
	bufferSize int
	eof        bool
}

// NewSession wraps a connected stream socket, owned by co, switching it to
// non-blocking mode. The session takes ownership of fd.
func NewSession(co *coroutine.Coroutine, fd int, opts ...Option) (*Session, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("stream: set non-blocking: %w", err)
	}
	var remote netip.AddrPort
	if sa, err := unix.Getpeername(fd); err == nil {
		remote = sockaddrToAddrPort(sa)
	}
	return newSession(co, fd, remote, cfg), nil
}

func newSession(co *coroutine.Coroutine, fd int, remote netip.AddrPort, cfg *streamOptions) *Session {
	return &Session{
		co:         co,
		fd:         fd,
		remote:     remote,
		chunkSize:  cfg.chunkSize,
		bufferSize: cfg.bufferSize,
	}
}

// Handle returns the handle of the owning coroutine.
func (s *Session) Handle() coroutine.Handle { return s.co.Handle() }

// FD returns the underlying socket, or -1 once closed.
func (s *Session) FD() int { return s.fd }

// RemoteAddr returns the peer address, which is invalid for sockets other
// than TCP.
func (s *Session) RemoteAddr() netip.AddrPort { return s.remote }

// ChunkSize returns the bound of a single transfer to or from the OS.
func (s *Session) ChunkSize() int { return s.chunkSize }

// BufferSize returns the bound of each of the input and output buffers.
func (s *Session) BufferSize() int { return s.bufferSize }

// EOF reports whether the peer has closed its end of the stream. It never
// reverts to false.
func (s *Session) EOF() bool { return s.eof }

// Buffered returns the number of received bytes not yet consumed.
func (s *Session) Buffered() int { return len(s.in) }

// Pending returns the number of staged bytes not yet sent.
func (s *Session) Pending() int { return len(s.out) }

// Read returns up to n bytes, waiting until n bytes are buffered or the peer
// closes the stream, in which case whatever remains is returned. A
// non-positive n, or one larger than the buffer size, reads a full buffer.
// Once the stream has ended and the buffer is drained, it fails with
// [ErrConnectionReset].
func (s *Session) Read(n int, timeout time.Duration) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if n <= 0 || n > s.bufferSize {
		n = s.bufferSize
	}
	deadline := coroutine.NewDeadline(timeout)
	for {
		if len(s.in) >= n {
			return s.take(n), nil
		}
		if s.eof {
			return s.takeRemaining()
		}
		if err := s.fill(deadline); err != nil {
			return nil, err
		}
	}
}

// ReadUntil returns the buffered bytes up to and including delim, or maxN
// bytes if the delimiter is not found within them, or whatever remains once
// the peer closes the stream. A non-positive maxN, or one larger than the
// buffer size, is treated as the buffer size. Bytes beyond the returned
// slice remain buffered. EOF and timeout are handled as per [Session.Read].
func (s *Session) ReadUntil(delim []byte, maxN int, timeout time.Duration) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if len(delim) == 0 {
		return nil, ErrEmptyDelimiter
	}
	if maxN <= 0 || maxN > s.bufferSize {
		maxN = s.bufferSize
	}
	deadline := coroutine.NewDeadline(timeout)
	var scanned int
	for {
		window := s.in[:min(len(s.in), maxN)]
		if i := bytes.Index(window[scanned:], delim); i >= 0 {
			return s.take(scanned + i + len(delim)), nil
		}
		if len(window) == maxN {
			return s.take(maxN), nil
		}
		if s.eof {
			return s.takeRemaining()
		}
		// the delimiter may straddle the next fill
		scanned = max(0, len(window)-len(delim)+1)
		if err := s.fill(deadline); err != nil {
			return nil, err
		}
	}
}

// ReadLine is [Session.ReadUntil] with a line feed delimiter.
func (s *Session) ReadLine(maxN int, timeout time.Duration) ([]byte, error) {
	return s.ReadUntil([]byte{'\n'}, maxN, timeout)
}

// Write admits as much of data as fits in the output buffer, then flushes
// the buffer. It returns the number of bytes admitted, which may be less
// than len(data): callers needing full delivery must call it again with the
// remainder (see [Session.WriteAll]). Admitted bytes that could not be sent
// before the deadline remain buffered.
func (s *Session) Write(data []byte, timeout time.Duration) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.write(data, coroutine.NewDeadline(timeout))
}

// WriteAll writes every byte of data, sharing a single deadline across as
// many rounds as required.
func (s *Session) WriteAll(data []byte, timeout time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	deadline := coroutine.NewDeadline(timeout)
	if len(data) == 0 {
		return s.flush(deadline)
	}
	var stalls int
	for len(data) != 0 {
		n, err := s.write(data, deadline)
		data = data[n:]
		if err != nil {
			return err
		}
		if n != 0 {
			stalls = 0
			continue
		}
		stalls++
		if stalls >= maxSendStalls {
			return ErrSendStalled
		}
	}
	return nil
}

// Enqueue stages data for a later flush, without performing any I/O. It
// fails with [ErrOSBufferExhausted] if the staged output would exceed four
// times the buffer size, in which case nothing is staged.
func (s *Session) Enqueue(data []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(s.out)+len(data) > outputCapFactor*s.bufferSize {
		return ErrOSBufferExhausted
	}
	s.out = append(s.out, data...)
	return nil
}

// Flush sends every staged byte.
func (s *Session) Flush(timeout time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.flush(coroutine.NewDeadline(timeout))
}

// Close shuts down and closes the socket. Buffered data is discarded. It is
// safe to call more than once.
func (s *Session) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	s.in, s.out = nil, nil
	_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	return unix.Close(fd)
}

func (s *Session) check() error {
	if s.fd < 0 {
		return ErrClosed
	}
	if current, ok := s.co.Scheduler().Current(); !ok || current != s.co.Handle() {
		return coroutine.ErrNotRunning
	}
	return nil
}

// take consumes the first n buffered bytes.
func (s *Session) take(n int) []byte {
	data := bytes.Clone(s.in[:n])
	s.in = s.in[:copy(s.in, s.in[n:])]
	return data
}

// takeRemaining consumes the rest of the buffer, after EOF.
func (s *Session) takeRemaining() ([]byte, error) {
	if len(s.in) == 0 {
		return nil, ErrConnectionReset
	}
	return s.take(len(s.in)), nil
}

// fill waits for readability, then reads at most one chunk.
func (s *Session) fill(deadline coroutine.Deadline) error {
	if _, err := s.co.WaitDeadline(s.fd, eventloop.EventRead, deadline); err != nil {
		return err
	}

	size := min(s.chunkSize, s.bufferSize-len(s.in))
	s.in = slices.Grow(s.in, size)
	n, err := unix.Read(s.fd, s.in[len(s.in):len(s.in)+size])
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		// spurious wake-up
	case err == unix.ECONNRESET:
		s.eof = true
	case err != nil:
		return fmt.Errorf("stream: read: %w", err)
	case n == 0:
		s.eof = true
	default:
		s.in = s.in[:len(s.in)+n]
	}
	return nil
}

func (s *Session) write(data []byte, deadline coroutine.Deadline) (int, error) {
	admit := min(len(data), max(0, s.bufferSize-len(s.out)))
	s.out = append(s.out, data[:admit]...)
	return admit, s.flush(deadline)
}

// flush sends staged output in chunks, waiting for writability before each.
func (s *Session) flush(deadline coroutine.Deadline) error {
	for len(s.out) != 0 {
		if _, err := s.co.WaitDeadline(s.fd, eventloop.EventWrite, deadline); err != nil {
			return err
		}

		n, err := unix.Write(s.fd, s.out[:min(s.chunkSize, len(s.out))])
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			continue
		case err == unix.EPIPE || err == unix.ECONNRESET:
			return ErrConnectionReset
		case err != nil:
			return fmt.Errorf("stream: write: %w", err)
		}
		s.out = s.out[:copy(s.out, s.out[n:])]
	}
	return nil
}
