//go:build linux

package eventloop

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd for wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

// signalWakeFd increments the eventfd counter. EAGAIN means the counter is
// saturated, i.e. a wake-up is already pending.
func signalWakeFd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// drainWakeFd resets the eventfd counter.
func drainWakeFd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
