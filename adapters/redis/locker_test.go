package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocker(t *testing.T) {
	_, err := NewLocker(nil)
	assert.Error(t, err)
}

func TestLocker_Lock(t *testing.T) {
	t.Run("key lives while held", func(t *testing.T) {
		client, mr, cleanup := setupMiniredis(t)
		defer cleanup()

		locker, err := NewLocker(client, WithLockerPrefix("chit:lock:"))
		require.NoError(t, err)

		unlock, err := locker.Lock(context.Background(), "group:1")
		require.NoError(t, err)
		assert.True(t, mr.Exists("chit:lock:group:1"))

		unlock()
		assert.False(t, mr.Exists("chit:lock:group:1"))
		unlock()
	})

	t.Run("two lockers share the key", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		first, err := NewLocker(client)
		require.NoError(t, err)
		second, err := NewLocker(client)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			inside  atomic.Int32
			maxSeen atomic.Int32
		)
		for i := 0; i < 6; i++ {
			locker := first
			if i%2 == 1 {
				locker = second
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				unlock, err := locker.Lock(ctx, "group:1")
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxSeen.Load())
	})

	t.Run("context ends the wait", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		locker, err := NewLocker(client)
		require.NoError(t, err)

		unlock, err := locker.Lock(context.Background(), "group:1")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(ctx, "group:1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		other, err := locker.Lock(context.Background(), "group:2")
		require.NoError(t, err)
		other()
	})
}
