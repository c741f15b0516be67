package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiterCapsConcurrencyPerHost(t *testing.T) {
	hl := NewHostLimiter(2, 0)

	var (
		current       atomic.Int32
		maxConcurrent atomic.Int32
		wg            sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := hl.Acquire(context.Background(), "a.test")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := current.Add(1)
			for {
				m := maxConcurrent.Load()
				if n <= m || maxConcurrent.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxConcurrent.Load(), int32(2))
	assert.Equal(t, 1, hl.hostCount())
}

func TestHostLimiterSeparatesHosts(t *testing.T) {
	hl := NewHostLimiter(1, 0)

	releaseA, err := hl.Acquire(context.Background(), "a.test")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	releaseB, err := hl.Acquire(ctx, "b.test")
	require.NoError(t, err, "a different host must not wait")
	releaseB()
}

func TestHostLimiterAcquireCancelled(t *testing.T) {
	hl := NewHostLimiter(1, 0)

	release, err := hl.Acquire(context.Background(), "a.test")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = hl.Acquire(ctx, "a.test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHostLimiterRate(t *testing.T) {
	hl := NewHostLimiter(0, 20) // one token every 50ms

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := hl.Acquire(context.Background(), "a.test")
		require.NoError(t, err)
		release()
	}

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestHostLimiterDisabled(t *testing.T) {
	hl := NewHostLimiter(0, 0)

	release, err := hl.Acquire(context.Background(), "a.test")
	require.NoError(t, err)
	release()

	assert.Zero(t, hl.hostCount())
}
