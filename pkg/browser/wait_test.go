package browser

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPoll(t *testing.T) {
	t.Helper()
	prev := PollInterval
	PollInterval = 5 * time.Millisecond
	t.Cleanup(func() { PollInterval = prev })
}

func TestWaitFor(t *testing.T) {
	fastPoll(t)

	t.Run("succeeds", func(t *testing.T) {
		var n atomic.Int32
		err := WaitFor(context.Background(), time.Second, "for n", func(context.Context) (bool, error) {
			return n.Add(1) >= 3, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, n.Load())
	})

	t.Run("times out with description", func(t *testing.T) {
		err := WaitFor(context.Background(), 30*time.Millisecond, "for element matching #x", func(context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, ErrTimeout)
		assert.Contains(t, err.Error(), "for element matching #x")
	})

	t.Run("condition error stops", func(t *testing.T) {
		boom := errors.New("boom")
		err := WaitFor(context.Background(), time.Second, "x", func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("parent cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WaitFor(ctx, time.Second, "x", func(context.Context) (bool, error) { return false, nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWaitForValue(t *testing.T) {
	fastPoll(t)

	var n atomic.Int32
	v, err := waitForValue(context.Background(), time.Second, "for value", func(context.Context) (string, error) {
		if n.Add(1) < 2 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = waitForValue(context.Background(), 20*time.Millisecond, "forever", func(context.Context) (int, error) {
		return 0, errors.New("still missing")
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "still missing")
}
