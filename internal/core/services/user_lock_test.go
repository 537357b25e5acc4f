package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/services"
)

func TestUserLock(t *testing.T) {
	ctx := context.Background()

	t.Run("Second holder times out", func(t *testing.T) {
		locks := services.NewUserLock(20 * time.Millisecond)

		unlock, err := locks.Lock(ctx, "user-1")
		require.NoError(t, err)

		_, err = locks.Lock(ctx, "user-1")
		assert.ErrorIs(t, err, services.ErrLockUnavailable)

		unlock()
		unlock()

		again, err := locks.Lock(ctx, "user-1")
		require.NoError(t, err, "Unlock must free the slot exactly once")
		again()
	})

	t.Run("Users do not block each other", func(t *testing.T) {
		locks := services.NewUserLock(20 * time.Millisecond)

		a, err := locks.Lock(ctx, "user-a")
		require.NoError(t, err)
		defer a()

		b, err := locks.Lock(ctx, "user-b")
		require.NoError(t, err)
		b()
	})

	t.Run("Cancelled context gives up", func(t *testing.T) {
		locks := services.NewUserLock(0)
		unlock, err := locks.Lock(ctx, "user-1")
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = locks.Lock(cctx, "user-1")
		assert.ErrorIs(t, err, services.ErrLockUnavailable)
	})

	t.Run("Holders are serialized", func(t *testing.T) {
		locks := services.NewUserLock(0)
		var inside, peak int32
		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locks.Lock(ctx, "user-1")
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()

				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	})
}
