//go:build linux || darwin

package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/go-squall/coroutine"
	"github.com/joeycumines/go-squall/eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func echoLines(s *Session) error {
	for {
		line, err := s.ReadLine(0, 5*time.Second)
		if err != nil {
			return err
		}
		if err := s.WriteAll(line, 5*time.Second); err != nil {
			return err
		}
	}
}

func TestListen_echo(t *testing.T) {
	h := newHarness(t)

	listeners, err := Listen(h.S, echoLines, `127.0.0.1`, 0, 0, WithLogger(h.Logger))
	require.NoError(t, err)
	require.Len(t, listeners, 1)
	addr := listeners[0].Addr()
	require.True(t, addr.Addr().IsLoopback())
	require.NotZero(t, addr.Port())

	type result struct {
		replies []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer h.D.Interrupt()
		var r result
		defer func() { done <- r }()

		conn, err := net.DialTimeout(`tcp`, addr.String(), 5*time.Second)
		if err != nil {
			r.err = err
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		reader := bufio.NewReader(conn)
		for _, msg := range []string{"hello\n", "world\n"} {
			if _, r.err = conn.Write([]byte(msg)); r.err != nil {
				return
			}
			var reply string
			if reply, r.err = reader.ReadString('\n'); r.err != nil {
				return
			}
			r.replies = append(r.replies, reply)
		}
	}()

	h.run(t)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, []string{"hello\n", "world\n"}, r.replies)
	assert.Contains(t, h.Log.String(), `stream: listening`)
	assert.Contains(t, h.Log.String(), `stream: accepted connection`)
	// every coroutine was cancelled, and the listening socket closed
	assert.Empty(t, h.S.Active())
	assert.Contains(t, h.Log.String(), `stream: listener closed`)
}

func TestListen_peerResetIsNotAnError(t *testing.T) {
	h := newHarness(t)

	handled := make(chan error, 1)
	listeners, err := Listen(h.S, func(s *Session) error {
		_, err := s.Read(1, 5*time.Second)
		if err == nil {
			_, err = s.Read(1, 5*time.Second)
		}
		handled <- err
		h.D.Interrupt()
		return err
	}, `127.0.0.1`, 0, 16, WithLogger(h.Logger))
	require.NoError(t, err)

	go func() {
		conn, err := net.Dial(`tcp`, listeners[0].Addr().String())
		if err != nil {
			h.D.Interrupt()
			return
		}
		_, _ = conn.Write([]byte(`x`))
		_ = conn.Close()
	}()

	h.run(t)

	select {
	case err := <-handled:
		assert.ErrorIs(t, err, ErrConnectionReset)
	default:
		t.Fatal(`handler did not run`)
	}
	assert.NotContains(t, h.Log.String(), `uncaught error`)
}

func TestListen_addressInUse(t *testing.T) {
	h := newHarness(t)

	occupied, err := net.Listen(`tcp4`, `127.0.0.1:0`)
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	listeners, err := Listen(h.S, echoLines, `127.0.0.1`, port, 0, WithLogger(h.Logger))
	assert.Nil(t, listeners)
	assert.ErrorIs(t, err, ErrNoListeners)
	assert.Contains(t, h.Log.String(), `stream: cannot set up listener`)
	assert.Empty(t, h.S.Active())
}

func TestListen_skipsAddressesThatCannotBind(t *testing.T) {
	h := newHarness(t)

	occupied, err := net.Listen(`tcp4`, `0.0.0.0:0`)
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	listeners, err := Listen(h.S, echoLines, ``, port, 0, WithLogger(h.Logger))
	if errors.Is(err, ErrNoListeners) {
		t.Skip(`IPv6 is unavailable`)
	}
	require.NoError(t, err)
	t.Cleanup(h.S.CancelAll)

	require.Len(t, listeners, 1)
	assert.True(t, listeners[0].Addr().Addr().Is6())
	assert.Equal(t, uint16(port), listeners[0].Addr().Port())
	assert.Contains(t, h.Log.String(), `stream: cannot set up listener`)
	assert.Contains(t, h.Log.String(), fmt.Sprintf(`0.0.0.0:%d`, port))
	assert.Len(t, h.S.Active(), 1)
}

func TestListener_transientAcceptFailuresBackOff(t *testing.T) {
	h := newHarness(t)

	listeners, err := Listen(h.S, echoLines, `127.0.0.1`, 0, 0,
		WithLogger(h.Logger),
		WithAcceptRetryRates(map[time.Duration]int{time.Hour: 3}),
	)
	require.NoError(t, err)
	l := listeners[0]

	var accepts int
	l.accept = func(int) (int, unix.Sockaddr, error) {
		accepts++
		return -1, nil, unix.EMFILE
	}

	// leaves the listening socket readable for the whole run
	conn, err := net.Dial(`tcp`, l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var (
		state         coroutine.State
		acceptsBefore int
	)
	_, err = h.D.WatchTimeout(func(eventloop.Events) {
		co, ok := h.S.Lookup(l.Handle())
		require.True(t, ok)
		state = co.State()
		acceptsBefore = accepts
		h.D.Stop()
	}, 50*time.Millisecond)
	require.NoError(t, err)

	h.run(t)

	// three retries allowed, then asleep until the window clears
	assert.Equal(t, coroutine.StateSuspended, state)
	assert.Equal(t, 4, acceptsBefore)
	assert.Equal(t, 4, accepts)
	assert.Contains(t, h.Log.String(), `stream: transient accept failure`)
	assert.Contains(t, h.Log.String(), `stream: listener closed`)
	assert.NotContains(t, h.Log.String(), `uncaught error`)
}

func TestListener_fatalAcceptFailure(t *testing.T) {
	h := newHarness(t)

	listeners, err := Listen(h.S, echoLines, `127.0.0.1`, 0, 0, WithLogger(h.Logger))
	require.NoError(t, err)
	l := listeners[0]
	l.accept = func(int) (int, unix.Sockaddr, error) {
		return -1, nil, unix.EINVAL
	}

	conn, err := net.Dial(`tcp`, l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	h.run(t)

	assert.Empty(t, h.S.Active())
	assert.Contains(t, h.Log.String(), `coroutine: terminated by uncaught error`)
	assert.Contains(t, h.Log.String(), `stream: listener closed`)
}

func TestListen_invalidArguments(t *testing.T) {
	h := newHarness(t)

	for _, tc := range [...]struct {
		name    string
		handler Handler
		port    int
		opts    []Option
	}{
		{name: `nil handler`, port: 0},
		{name: `negative port`, handler: echoLines, port: -1},
		{name: `port too large`, handler: echoLines, port: 65536},
		{name: `bad option`, handler: echoLines, opts: []Option{WithAcceptRetryRates(nil)}},
		{name: `rates not monotonic`, handler: echoLines, opts: []Option{WithAcceptRetryRates(map[time.Duration]int{
			time.Second: 100,
			time.Minute: 10,
		})}},
		{name: `rate per second grows`, handler: echoLines, opts: []Option{WithAcceptRetryRates(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 120,
		})}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			listeners, err := Listen(h.S, tc.handler, `127.0.0.1`, tc.port, 0, tc.opts...)
			assert.Error(t, err)
			assert.Nil(t, listeners)
		})
	}

	_, err := Listen(nil, echoLines, `127.0.0.1`, 0, 0)
	assert.Error(t, err)
}

func TestStartServer(t *testing.T) {
	h := newHarness(t)

	handles, err := StartServer(h.S, echoLines, `127.0.0.1`, 0, 0)
	require.NoError(t, err)
	require.Len(t, handles, 1)

	co, ok := h.S.Lookup(handles[0])
	require.True(t, ok)
	assert.Equal(t, coroutine.StateCreated, co.State())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.S.Run(ctx), context.DeadlineExceeded)

	assert.Equal(t, coroutine.StateTerminated, co.State())
	assert.ErrorIs(t, co.Err(), coroutine.ErrCancelled)
}

func TestResolveListenAddrs(t *testing.T) {
	t.Run(`empty host`, func(t *testing.T) {
		addrs, err := resolveListenAddrs(context.Background(), ``, 8080)
		require.NoError(t, err)
		assert.Equal(t, []netip.AddrPort{
			netip.MustParseAddrPort(`0.0.0.0:8080`),
			netip.MustParseAddrPort(`[::]:8080`),
		}, addrs)
	})

	t.Run(`literal`, func(t *testing.T) {
		addrs, err := resolveListenAddrs(context.Background(), `::1`, 80)
		require.NoError(t, err)
		assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort(`[::1]:80`)}, addrs)
	})

	t.Run(`mapped literal`, func(t *testing.T) {
		addrs, err := resolveListenAddrs(context.Background(), `::ffff:127.0.0.1`, 80)
		require.NoError(t, err)
		assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort(`127.0.0.1:80`)}, addrs)
	})

	t.Run(`localhost`, func(t *testing.T) {
		addrs, err := resolveListenAddrs(context.Background(), `localhost`, 80)
		require.NoError(t, err)
		require.NotEmpty(t, addrs)
		seen := make(map[netip.AddrPort]bool)
		for _, addr := range addrs {
			assert.True(t, addr.Addr().IsLoopback(), addr.String())
			assert.False(t, seen[addr], `duplicate %s`, addr)
			seen[addr] = true
		}
	})

	t.Run(`unresolvable`, func(t *testing.T) {
		_, err := resolveListenAddrs(context.Background(), `host.invalid`, 80)
		assert.Error(t, err)
	})
}

func TestSockaddrConversion(t *testing.T) {
	for _, s := range []string{`127.0.0.1:80`, `[::1]:443`, `0.0.0.0:0`} {
		ap := netip.MustParseAddrPort(s)
		family, sa := addrPortToSockaddr(ap)
		if ap.Addr().Is4() {
			assert.Equal(t, unix.AF_INET, family)
		} else {
			assert.Equal(t, unix.AF_INET6, family)
		}
		assert.Equal(t, ap, sockaddrToAddrPort(sa))
	}
	assert.False(t, sockaddrToAddrPort(&unix.SockaddrUnix{Name: `x`}).IsValid())
}

func TestIsTransientAcceptError(t *testing.T) {
	for _, err := range []error{unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM, unix.ECONNABORTED, unix.EINTR, unix.EAGAIN} {
		assert.True(t, isTransientAcceptError(err), err.Error())
	}
	for _, err := range []error{unix.EBADF, unix.EINVAL, unix.ENOTSOCK} {
		assert.False(t, isTransientAcceptError(err), err.Error())
	}
}

func TestResolveOptions(t *testing.T) {
	cfg, err := resolveOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, cfg.chunkSize)
	assert.Equal(t, 8*DefaultChunkSize, cfg.bufferSize)
	assert.Equal(t, DefaultAcceptRetryRates, cfg.acceptRetryRates)

	for _, tc := range [...]struct {
		chunk, buffer         int
		wantChunk, wantBuffer int
	}{
		{chunk: 0, buffer: 0, wantChunk: DefaultChunkSize, wantBuffer: 8 * DefaultChunkSize},
		{chunk: -5, buffer: -5, wantChunk: 1, wantBuffer: 1},
		{chunk: 1 << 20, buffer: 1 << 30, wantChunk: MaxChunkSize, wantBuffer: 8 * MaxChunkSize},
		{chunk: 4, buffer: 0, wantChunk: 4, wantBuffer: 32},
		{chunk: 4, buffer: 10, wantChunk: 4, wantBuffer: 10},
	} {
		cfg, err := resolveOptions([]Option{nil, WithChunkSize(tc.chunk), WithBufferSize(tc.buffer)})
		require.NoError(t, err)
		assert.Equal(t, tc.wantChunk, cfg.chunkSize, `chunk %d`, tc.chunk)
		assert.Equal(t, tc.wantBuffer, cfg.bufferSize, `buffer %d`, tc.buffer)
	}

	_, err = resolveOptions([]Option{WithAcceptRetryRates(map[time.Duration]int{time.Second: 0})})
	assert.Error(t, err)
	_, err = resolveOptions([]Option{WithAcceptRetryRates(map[time.Duration]int{-time.Second: 1})})
	assert.Error(t, err)

	rates := map[time.Duration]int{time.Second: 1}
	cfg, err = resolveOptions([]Option{WithAcceptRetryRates(rates)})
	require.NoError(t, err)
	assert.Equal(t, rates, cfg.acceptRetryRates)
}

func TestErrTimedOut_isShared(t *testing.T) {
	assert.Same(t, coroutine.ErrTimedOut, ErrTimedOut)
	assert.True(t, strings.HasPrefix(ErrConnectionReset.Error(), `stream: `))
}
