/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package dedup

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestDeduplicatorCoalescesConcurrentCalls(t *testing.T) {
	const callers = 100

	d := New[string](time.Minute)
	factoryCalls := atomic.NewInt32(0)
	release := make(chan struct{})

	var wg sync.WaitGroup
	values := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = d.Do("note:inbox.md", func() (string, error) {
				factoryCalls.Inc()
				<-release
				return "contents", nil
			})
		}(i)
	}

	// Let every caller join the in-flight entry before it settles.
	require.Eventually(t, func() bool {
		s := d.Stats()
		return s.Hits == callers-1 && s.Misses == 1
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), factoryCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "contents", values[i])
	}

	stats := d.Stats()
	require.Equal(t, int64(callers), stats.TotalRequests)
	require.Equal(t, int64(callers-1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
}

func TestDeduplicatorSharesSettledEntryWithinTTL(t *testing.T) {
	d := New[int](time.Minute)
	factoryCalls := 0
	factory := func() (int, error) {
		factoryCalls++
		return 42, nil
	}

	for i := 0; i < 5; i++ {
		val, err := d.Do("key", factory)
		require.NoError(t, err)
		require.Equal(t, 42, val)
	}
	require.Equal(t, 1, factoryCalls)
}

func TestDeduplicatorExpiresEntries(t *testing.T) {
	d := New[int](20 * time.Millisecond)
	factoryCalls := 0
	factory := func() (int, error) {
		factoryCalls++
		return factoryCalls, nil
	}

	val, err := d.Do("key", factory)
	require.NoError(t, err)
	require.Equal(t, 1, val)

	// A hit during the live window does not renew the expiry.
	val, err = d.Do("key", factory)
	require.NoError(t, err)
	require.Equal(t, 1, val)

	time.Sleep(30 * time.Millisecond)

	val, err = d.Do("key", factory)
	require.NoError(t, err)
	require.Equal(t, 2, val)
	require.Equal(t, 2, factoryCalls)
}

func TestDeduplicatorIsolatesKeys(t *testing.T) {
	d := New[string](time.Minute)

	val1, err := d.Do("key1", func() (string, error) { return "one", nil })
	require.NoError(t, err)
	val2, err := d.Do("key2", func() (string, error) { return "two", nil })
	require.NoError(t, err)

	require.Equal(t, "one", val1)
	require.Equal(t, "two", val2)
	require.Equal(t, 2, d.Len())

	stats := d.Stats()
	require.Equal(t, int64(2), stats.Misses)
	require.Equal(t, int64(0), stats.Hits)
}

func TestDeduplicatorSharesFailureAndEvictsIt(t *testing.T) {
	d := New[string](time.Minute)
	wantErr := errors.New("factory failure")
	factoryCalls := atomic.NewInt32(0)
	release := make(chan struct{})
	factory := func() (string, error) {
		factoryCalls.Inc()
		<-release
		return "", wantErr
	}

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Do("key", factory)
		}(i)
	}
	require.Eventually(t, func() bool {
		s := d.Stats()
		return s.Hits == callers-1 && s.Misses == 1
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), factoryCalls.Load())
	for i := 0; i < callers; i++ {
		require.ErrorIs(t, errs[i], wantErr)
	}

	// The failed entry is not cached, the next call runs the factory again.
	require.Equal(t, 0, d.Len())
	val, err := d.Do("key", func() (string, error) { return "recovered", nil })
	require.NoError(t, err)
	require.Equal(t, "recovered", val)
}

func TestDeduplicatorStats(t *testing.T) {
	d := New[int](time.Minute)

	_, err := d.Do("key", func() (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 1, nil
	})
	require.NoError(t, err)
	_, err = d.Do("key", func() (int, error) { return 2, nil })
	require.NoError(t, err)

	stats := d.Stats()
	require.Equal(t, int64(2), stats.TotalRequests)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.InDelta(t, 0.5, stats.HitRate, 0.001)
	require.GreaterOrEqual(t, stats.AvgResponseTime, 10*time.Millisecond)
}

func TestDeduplicatorResetStats(t *testing.T) {
	d := New[int](time.Minute)

	_, err := d.Do("key", func() (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = d.Do("key", func() (int, error) { return 2, nil })
	require.NoError(t, err)

	d.ResetStats()

	stats := d.Stats()
	require.Equal(t, int64(0), stats.TotalRequests)
	require.Equal(t, int64(0), stats.Hits)
	require.Equal(t, int64(0), stats.Misses)
	require.Equal(t, float64(0), stats.HitRate)
	require.Equal(t, time.Duration(0), stats.AvgResponseTime)

	// Live entries survive the reset.
	require.Equal(t, 1, d.Len())
	val, err := d.Do("key", func() (int, error) { return 3, nil })
	require.NoError(t, err)
	require.Equal(t, 1, val)
}

func TestDeduplicatorPropagatesPanic(t *testing.T) {
	d := New[int](time.Minute)

	require.Panics(t, func() {
		_, _ = d.Do("key", func() (int, error) {
			panic("factory panicked")
		})
	})

	// The panicking entry is not cached.
	require.Equal(t, 0, d.Len())
	val, err := d.Do("key", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, val)
}
