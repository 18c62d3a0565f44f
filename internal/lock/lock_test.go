package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
	_ Locker = Nop{}
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "fusse:lock:", 5*time.Second), mr
}

func lockers(t *testing.T) map[string]Locker {
	r, _ := newRedis(t)
	return map[string]Locker{"local": NewLocal(), "redis": r}
}

func TestLocker_MutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := l.Lock(context.Background(), "book:2024-01-15")
					if !assert.NoError(t, err) {
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestLocker_Timeout(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), "k")
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = l.Lock(ctx, "k")
			assert.ErrorIs(t, err, ErrTimeout)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			// Other keys are independent.
			other, err := l.Lock(context.Background(), "other")
			require.NoError(t, err)
			other()
		})
	}
}

func TestLocker_UnlockIdempotent(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), "k")
			require.NoError(t, err)
			unlock()
			unlock()

			again, err := l.Lock(context.Background(), "k")
			require.NoError(t, err)
			again()
		})
	}
}

func TestLocal_ForgetsReleasedKeys(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	assert.Empty(t, l.locks)
}

func TestRedis_ReleaseChecksToken(t *testing.T) {
	r, mr := newRedis(t)

	unlock, err := r.Lock(context.Background(), "k")
	require.NoError(t, err)

	// Simulate expiry and takeover by another holder.
	mr.FastForward(6 * time.Second)
	require.False(t, mr.Exists("fusse:lock:k"))
	require.NoError(t, mr.Set("fusse:lock:k", "someone-else"))

	unlock()
	got, err := mr.Get("fusse:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
