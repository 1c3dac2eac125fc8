package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// PollInterval is how often WaitFor re-checks its condition.
var PollInterval = 100 * time.Millisecond

// ErrTimeout is wrapped by WaitFor when the condition never held.
var ErrTimeout = errors.New("wait timed out")

// Condition reports whether a wait is over. An error from it ends the wait at once.
type Condition func(ctx context.Context) (bool, error)

// WaitFor polls cond until it reports true, returns an error, or timeout elapses. The
// timeout error names what was being waited for.
func WaitFor(ctx context.Context, timeout time.Duration, what string, cond Condition) error {
	err := wait.PollUntilContextTimeout(ctx, PollInterval, timeout, true, wait.ConditionWithContextFunc(cond))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait.Interrupted(err) {
		return fmt.Errorf("%w after %s waiting %s", ErrTimeout, timeout, what)
	}
	return err
}

// waitForValue polls get until it succeeds. Errors from get are retried; the last one is
// reported on timeout.
func waitForValue[T any](ctx context.Context, timeout time.Duration, what string, get func(context.Context) (T, error)) (T, error) {
	var val T
	var lastErr error
	err := WaitFor(ctx, timeout, what, func(ctx context.Context) (bool, error) {
		v, err := get(ctx)
		if err != nil {
			lastErr = err
			return false, nil
		}
		val = v
		return true, nil
	})
	if err != nil {
		var zero T
		if errors.Is(err, ErrTimeout) && lastErr != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
		return zero, err
	}
	return val, nil
}
