//go:build linux

package eventloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPoller_close_neverOpened(t *testing.T) {
	var p poller
	assert.NoError(t, p.close())
}

func TestPoller_close_descriptorZero(t *testing.T) {
	saved, err := unix.Dup(0)
	require.NoError(t, err)
	defer func() {
		_ = unix.Dup2(saved, 0)
		_ = unix.Close(saved)
	}()
	require.NoError(t, unix.Close(0))

	var p poller
	require.NoError(t, p.open(8))
	if p.epfd != 0 {
		_ = p.close()
		t.Skipf(`epoll instance got fd %d`, p.epfd)
	}

	require.NoError(t, p.close())
	_, err = unix.FcntlInt(0, unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.NoError(t, p.close())
}
