package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo(t *testing.T) {
	t.Run("names the goroutine context", func(t *testing.T) {
		names := make(chan string, 1)
		done := Go(context.Background(), "desk-link-monitor", func(ctx context.Context) {
			names <- GetName(ctx)
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			require.Fail(t, "goroutine MUST finish")
		}
		assert.Equal(t, "desk-link-monitor", <-names)
	})

	t.Run("nil parent context", func(t *testing.T) {
		//nolint:staticcheck // nil context is the documented fallback
		done := Go(nil, "nil-parent", func(ctx context.Context) {
			assert.NotNil(t, ctx)
		})
		<-done
	})

	t.Run("parent cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := Go(ctx, "waiter", func(ctx context.Context) {
			<-ctx.Done()
		})
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			require.Fail(t, "goroutine MUST observe parent cancellation")
		}
	})
}

func TestGetName(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, "", GetName(nil))
}

func TestSleep(t *testing.T) {
	t.Run("waits the full duration", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("returns early when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := Sleep(ctx, time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("zero duration reports context state", func(t *testing.T) {
		assert.NoError(t, Sleep(context.Background(), 0))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	})
}
