package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestDo_StopsWhenDone(t *testing.T) {
	s := &recordingSleeper{}
	p := Fixed(3, 2*time.Second)

	calls := 0
	n, err := p.Do(context.Background(), s, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return attempt == 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, s.waits)
}

func TestDo_ExhaustedWithoutError(t *testing.T) {
	s := &recordingSleeper{}
	n, err := Fixed(3, time.Second).Do(context.Background(), s, func(context.Context, int) (bool, error) {
		return false, nil
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, n)
	assert.Len(t, s.waits, 3)
}

func TestDo_RetriesErrorsThenWrapsLast(t *testing.T) {
	boom := errors.New("gateway timeout")
	n, err := Fixed(2, 0).Do(context.Background(), &recordingSleeper{}, func(context.Context, int) (bool, error) {
		return false, boom
	})

	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, boom)
}

func TestDo_ErrorThenSuccess(t *testing.T) {
	boom := errors.New("transient")
	_, err := Fixed(3, 0).Do(context.Background(), &recordingSleeper{}, func(_ context.Context, attempt int) (bool, error) {
		if attempt == 0 {
			return false, boom
		}
		return true, nil
	})
	assert.NoError(t, err)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	p := Fixed(5, 0)
	p.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	n, err := p.Do(context.Background(), &recordingSleeper{}, func(context.Context, int) (bool, error) {
		calls++
		return false, fatal
	})

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Fixed(3, time.Second).Do(ctx, TimerSleeper, func(context.Context, int) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestWait(t *testing.T) {
	assert.Zero(t, Fixed(3, 0).Wait(2))
	assert.Equal(t, time.Second, Fixed(3, time.Second).Wait(4))

	grow := Policy{MaxAttempts: 4, Delay: time.Second, MaxDelay: 3 * time.Second, Factor: 2}
	assert.Equal(t, time.Second, grow.Wait(0))
	assert.Equal(t, 2*time.Second, grow.Wait(1))
	assert.Equal(t, 3*time.Second, grow.Wait(2))
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Policy{}.Do(context.Background(), &recordingSleeper{}, func(context.Context, int) (bool, error) {
		calls++
		return true, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
