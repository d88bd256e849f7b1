package coroutine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadline_zero(t *testing.T) {
	for _, d := range []Deadline{{}, NewDeadline(0), NewDeadline(-time.Second)} {
		assert.True(t, d.IsZero())
		remaining, err := d.Remaining()
		assert.NoError(t, err)
		assert.Zero(t, remaining)
	}
}

func TestDeadline_Remaining(t *testing.T) {
	d := NewDeadline(time.Hour)
	assert.False(t, d.IsZero())
	remaining, err := d.Remaining()
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Hour), float64(remaining), float64(time.Second))

	d = NewDeadline(time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	remaining, err = d.Remaining()
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Zero(t, remaining)
}

func TestHandle_String(t *testing.T) {
	assert.Equal(t, `1`, Handle(1).String())
	assert.Equal(t, `FF`, Handle(255).String())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, `Created`, StateCreated.String())
	assert.Equal(t, `Running`, StateRunning.String())
	assert.Equal(t, `Suspended`, StateSuspended.String())
	assert.Equal(t, `Terminated`, StateTerminated.String())
	assert.Equal(t, `State(9)`, State(9).String())
}
