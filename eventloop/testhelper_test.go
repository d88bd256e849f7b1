package eventloop

import (
	"bytes"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// newTestLogger returns a debug-level JSON logger writing to the returned
// buffer.
func newTestLogger() (*logiface.Logger[logiface.Event], *bytes.Buffer) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(&buf),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	return logger, &buf
}

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}
