//go:build !linux && !darwin

package eventloop

func createWakeFd() (int, int, error) { return -1, -1, ErrUnsupportedPlatform }

func signalWakeFd(int) error { return ErrUnsupportedPlatform }

func drainWakeFd(int) {}

func closeFD(int) error { return nil }
