package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Schedule(t *testing.T) {
	p := DefaultRetryPolicy()
	waits := p.Schedule()

	assert.Len(t, waits, p.MaxAttempts-1)
	lower := time.Duration(float64(p.BaseDelay) * (1 - p.Jitter))
	upper := time.Duration(float64(p.MaxDelay) * (1 + p.Jitter))
	for i, w := range waits {
		assert.GreaterOrEqual(t, w, lower, "wait %d", i)
		assert.LessOrEqual(t, w, upper, "wait %d", i)
	}
}

func TestRetryPolicy_ScheduleWithoutJitterDoubles(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
	}, p.Schedule())
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 0, BaseDelay: 0, MaxDelay: time.Millisecond, Multiplier: 0.5, Jitter: 2}.normalized()
	d := DefaultRetryPolicy()

	assert.Equal(t, d.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, d.BaseDelay, p.BaseDelay)
	assert.Equal(t, d.BaseDelay, p.MaxDelay)
	assert.Equal(t, d.Multiplier, p.Multiplier)
	assert.Equal(t, d.Jitter, p.Jitter)

	assert.Empty(t, RetryPolicy{MaxAttempts: 1}.Schedule())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
