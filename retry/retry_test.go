/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoWithRetry(t *testing.T) {
	errTemporary := errors.New("temporary error")
	errPermanent := errors.New("permanent error")
	isRetryable := func(err error) bool {
		return errors.Is(err, errTemporary)
	}

	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), nil, nil,
			func(ctx context.Context) error {
				calls++
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), isRetryable, nil,
			func(ctx context.Context) error {
				calls++
				if calls < 3 {
					return errTemporary
				}
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("gives up after max retry attempts", func(t *testing.T) {
		calls := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 2), isRetryable, nil,
			func(ctx context.Context) error {
				calls++
				return errTemporary
			})
		require.ErrorIs(t, err, errTemporary)
		require.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), isRetryable, nil,
			func(ctx context.Context) error {
				calls++
				return errPermanent
			})
		require.ErrorIs(t, err, errPermanent)
		require.Equal(t, 1, calls)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := DoWithRetry(ctx, NewConstantBackoffPolicy(time.Millisecond*10, 100), nil, nil,
			func(ctx context.Context) error {
				calls++
				cancel()
				return errTemporary
			})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})
}

func TestDoWithRetryAndCount(t *testing.T) {
	errTemporary := errors.New("temporary error")

	t.Run("counts single successful invocation", func(t *testing.T) {
		attempts, err := DoWithRetryAndCount(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), nil, nil,
			func(ctx context.Context) error {
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("counts all invocations on exhaustion", func(t *testing.T) {
		attempts, err := DoWithRetryAndCount(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 3), nil, nil,
			func(ctx context.Context) error {
				return errTemporary
			})
		require.ErrorIs(t, err, errTemporary)
		require.Equal(t, 4, attempts)
	})

	t.Run("notify receives every retry", func(t *testing.T) {
		notified := 0
		attempts, err := DoWithRetryAndCount(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 2), nil,
			func(err error, d time.Duration) {
				notified++
			},
			func(ctx context.Context) error {
				return errTemporary
			})
		require.ErrorIs(t, err, errTemporary)
		require.Equal(t, 3, attempts)
		require.Equal(t, 2, notified)
	})
}

func TestExponentialBackoffPolicy(t *testing.T) {
	p := NewExponentialBackoffPolicy(time.Millisecond*10, 3)
	b := p.NewBackOff()
	var delays []time.Duration
	for {
		d := b.NextBackOff()
		if d < 0 {
			break
		}
		delays = append(delays, d)
	}
	require.Len(t, delays, 3)
	// Delays grow with jitter, the first retry starts near the initial interval.
	require.GreaterOrEqual(t, delays[0], time.Millisecond*5)
}

func TestPolicyFunc(t *testing.T) {
	p := PolicyFunc(NewConstantBackoffPolicy(time.Millisecond, 1).NewBackOff)
	b := p.NewBackOff()
	require.Equal(t, time.Millisecond, b.NextBackOff())
}
