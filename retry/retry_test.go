package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3}, Events{}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var attempts []int
	err := Do(context.Background(), Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}, Events{
		OnAttempt: func(attempt int, err error) { attempts = append(attempts, attempt) },
	}, func() error {
		calls++
		if calls < 3 {
			return errors.New("fail")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ExhaustionSurfacesLastError(t *testing.T) {
	sentinel := errors.New("boom")
	var failedAttempts int
	var failedErr error
	err := Do(context.Background(), Policy{MaxAttempts: 2, InitialDelay: time.Millisecond}, Events{
		OnFailed: func(attempts int, err error) { failedAttempts = attempts; failedErr = err },
	}, func() error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 2, failedAttempts)
	require.ErrorIs(t, failedErr, sentinel)
}

func TestDo_PredicateStopsRetrying(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		ShouldRetry:  func(err error) bool { return false },
	}, Events{}, func() error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_ContextCancelAbortsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond}, Events{}, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("fail")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDo_ExponentialGrowthDoublesDelay(t *testing.T) {
	start := time.Now()
	calls := 0
	_ = Do(context.Background(), Policy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Growth: Exponential}, Events{}, func() error {
		calls++
		return errors.New("fail")
	})
	elapsed := time.Since(start)
	// delays: 10ms then 20ms = 30ms minimum
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}
