package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiter_FirstWaitIsImmediate(t *testing.T) {
	r := NewFixedRateLimiter(time.Hour)

	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSimpleRateLimiter_SpacesActions(t *testing.T) {
	r := NewFixedRateLimiter(50 * time.Millisecond)

	require.NoError(t, r.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSimpleRateLimiter_Cancelled(t *testing.T) {
	r := NewFixedRateLimiter(time.Hour)
	require.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimpleRateLimiter_Reset(t *testing.T) {
	r := NewFixedRateLimiter(time.Hour)
	require.NoError(t, r.Wait(context.Background()))
	r.Reset()

	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAdaptiveRateLimiter_BacksOffAfterErrors(t *testing.T) {
	a := NewAdaptiveRateLimiter(500*time.Millisecond, 500*time.Millisecond)

	a.RecordError()
	a.RecordError()
	assert.Equal(t, 500*time.Millisecond, a.Delay(), "two errors do not back off yet")

	a.RecordError()
	assert.Equal(t, 750*time.Millisecond, a.Delay())
}

func TestAdaptiveRateLimiter_NeverBelowBase(t *testing.T) {
	a := NewAdaptiveRateLimiter(500*time.Millisecond, 500*time.Millisecond)

	for i := 0; i < 3; i++ {
		a.RecordError()
	}
	require.Equal(t, 750*time.Millisecond, a.Delay())

	for i := 0; i < 60; i++ {
		a.RecordSuccess()
	}
	assert.Equal(t, 500*time.Millisecond, a.Delay())
}

func TestAdaptiveRateLimiter_Ceiling(t *testing.T) {
	a := NewAdaptiveRateLimiter(50*time.Second, 50*time.Second)

	for i := 0; i < 9; i++ {
		a.RecordError()
	}
	assert.Equal(t, 60*time.Second, a.Delay())
}

func TestSimpleRateLimiter_MarkRestartsDelay(t *testing.T) {
	r := NewFixedRateLimiter(time.Hour)
	r.Mark()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}
