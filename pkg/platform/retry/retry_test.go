package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noSleep = withSleep(func(context.Context, time.Duration) error { return nil })

func TestDo(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("returns immediately on success", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func(context.Context) error { calls++; return nil }, noSleep)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries up to max attempts and returns last error", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func(context.Context) error { calls++; return boom },
			WithMaxAttempts(4), noSleep)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 4, calls)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, func(context.Context) error {
			calls++
			if calls < 3 {
				return boom
			}
			return nil
		}, WithMaxAttempts(5), noSleep)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-retryable error propagates immediately", func(t *testing.T) {
		fatal := errors.New("record not found")
		calls := 0
		err := Do(ctx, func(context.Context) error { calls++; return fatal },
			WithMaxAttempts(5),
			WithRetryable(func(err error) bool { return !errors.Is(err, fatal) }),
			noSleep)
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("backoff doubles and is capped", func(t *testing.T) {
		var waits []time.Duration
		err := Do(ctx, func(context.Context) error { return boom },
			WithMaxAttempts(5),
			WithMinWait(100*time.Millisecond),
			WithMaxWait(300*time.Millisecond),
			withSleep(func(_ context.Context, d time.Duration) error {
				waits = append(waits, d)
				return nil
			}))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			300 * time.Millisecond,
			300 * time.Millisecond,
		}, waits)
	})

	t.Run("cancellation cuts the backoff short", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Do(cctx, func(context.Context) error { return boom },
			WithMaxAttempts(3), WithMinWait(time.Minute))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
