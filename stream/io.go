//go:build linux || darwin

package stream

import (
	"io"
	"time"

	"github.com/joeycumines/go-squall/coroutine"
)

// Reader adapts the session to [io.Reader], for consumers of a plain byte
// stream. Each call returns what is buffered, or waits for at most one fill
// bounded by timeout. The end of the stream is reported as [io.EOF].
//
// Like the session itself, the reader may only be used from the owning
// coroutine.
func (s *Session) Reader(timeout time.Duration) io.Reader {
	return &sessionReader{s: s, timeout: timeout}
}

// Writer adapts the session to [io.Writer]. Each call delivers the whole
// buffer, bounded by timeout. On failure, the count includes bytes admitted
// to the output buffer but not yet sent.
func (s *Session) Writer(timeout time.Duration) io.Writer {
	return &sessionWriter{s: s, timeout: timeout}
}

type sessionReader struct {
	s       *Session
	timeout time.Duration
}

func (r *sessionReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.s.check(); err != nil {
		return 0, err
	}
	deadline := coroutine.NewDeadline(r.timeout)
	for len(r.s.in) == 0 {
		if r.s.eof {
			return 0, io.EOF
		}
		if err := r.s.fill(deadline); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.s.in)
	r.s.in = r.s.in[:copy(r.s.in, r.s.in[n:])]
	return n, nil
}

type sessionWriter struct {
	s       *Session
	timeout time.Duration
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	if err := w.s.check(); err != nil {
		return 0, err
	}
	deadline := coroutine.NewDeadline(w.timeout)
	var written int
	for written < len(p) {
		// every round flushes fully, so the next always admits something
		n, err := w.s.write(p[written:], deadline)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
