package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		Timeout:          2 * time.Second,
		MaxAttempts:      3,
		RetryBase:        time.Millisecond,
		RetryCap:         5 * time.Millisecond,
		TripThreshold:    3,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenRequests: 2,
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	p := NewPipeline("test", testOptions(), zap.NewNop())
	var calls atomic.Int64

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	p := NewPipeline("test", testOptions(), zap.NewNop())
	var calls atomic.Int64

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestExecute_AttemptsAreBounded(t *testing.T) {
	p := NewPipeline("test", testOptions(), zap.NewNop())
	var calls atomic.Int64

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	p := NewPipeline("test", testOptions(), zap.NewNop())
	var calls atomic.Int64
	wrapped := errors.New("bad response shape")

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return NonRetryable(wrapped)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wrapped)
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecute_OpenBreakerFailsFastWithoutInvoking(t *testing.T) {
	p := NewPipeline("test", testOptions(), zap.NewNop())
	var calls atomic.Int64
	failing := func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("downstream down")
	}

	// Three consecutive failures trip the breaker.
	_ = p.Execute(context.Background(), failing)
	require.Equal(t, gobreaker.StateOpen, p.State())

	before := calls.Load()
	err := p.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, calls.Load(), "open breaker must not invoke the downstream")
}

func TestExecute_BreakerRecoversThroughHalfOpen(t *testing.T) {
	p := NewPipeline("test", testOptions(), zap.NewNop())
	failing := func(ctx context.Context) error { return errors.New("down") }
	healthy := func(ctx context.Context) error { return nil }

	_ = p.Execute(context.Background(), failing)
	require.Equal(t, gobreaker.StateOpen, p.State())

	// After the recovery window, trial calls are admitted; two consecutive
	// successes close the breaker.
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, p.Execute(context.Background(), healthy))
	require.NoError(t, p.Execute(context.Background(), healthy))
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestExecute_ContextCancellationStopsRetries(t *testing.T) {
	p := NewPipeline("test", testOptions(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64

	err := p.Execute(ctx, func(ctx context.Context) error {
		calls.Add(1)
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecute_TimeoutBoundsTheWholeCall(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 30 * time.Millisecond
	p := NewPipeline("test", opts, zap.NewNop())

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
