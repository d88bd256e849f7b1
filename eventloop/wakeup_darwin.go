//go:build darwin

package eventloop

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a self-pipe for wake-up notifications (Darwin).
// Returns the read end and the write end of the pipe.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}

	// On failure, close both pipe ends to avoid resource leak
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}

	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return -1, -1, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return -1, -1, err
	}

	return fds[0], fds[1], nil
}

// signalWakeFd writes a single byte to the pipe. A full pipe already holds a
// pending wake-up.
func signalWakeFd(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// drainWakeFd empties the pipe.
func drainWakeFd(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
