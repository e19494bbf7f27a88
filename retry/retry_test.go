package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, Backoff: time.Millisecond, BackoffMax: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ReturnsLastValueWhenExhausted(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
		calls++
		return calls * 10, errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 30, got)
	assert.Equal(t, 3, calls)
}

func TestDo_NoRetriesConfigured(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(0), func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ShouldRetryStopsPermanentErrors(t *testing.T) {
	permanent := errors.New("permanent")
	p := fastPolicy(5)
	p.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, Backoff: time.Hour, BackoffMax: time.Hour}
	p.OnRetry = func(int, error) { cancel() }

	calls := 0
	start := time.Now()
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestPolicyDelayCapped(t *testing.T) {
	p := Policy{Backoff: 200 * time.Millisecond, BackoffMax: 500 * time.Millisecond}

	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 500*time.Millisecond, p.Delay(4))
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
}
