package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		RatePerMinute: 600, // one token per 100ms
		Burst:         3,
		PenaltyBase:   time.Millisecond,
		PenaltyMax:    2 * time.Millisecond,
		Cooldown:      time.Hour,
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "burst acquires must not sleep")

	start = time.Now()
	require.NoError(t, l.Acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "depleted acquire waits for a refill")
	assert.Equal(t, 1, l.Level())
}

func TestLimiterEscalation(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		RatePerMinute: 600,
		Burst:         1,
		PenaltyBase:   10 * time.Millisecond,
		PenaltyMax:    35 * time.Millisecond,
		Cooldown:      time.Hour,
	})

	// Level climbs one per depleted send and the penalty doubles up to
	// the cap: 10, 20, 35, 35, 35ms.
	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		35 * time.Millisecond,
		35 * time.Millisecond,
		35 * time.Millisecond,
	}
	for i, p := range want {
		got := l.observe(true)
		assert.Equal(t, p, got, "depleted send %d", i+1)
	}
	assert.Equal(t, maxEscalationLevel, l.Level())

	// Further depletion stays pinned at the cap.
	assert.Equal(t, 35*time.Millisecond, l.observe(true))
	assert.Equal(t, maxEscalationLevel, l.Level())
}

func TestLimiterCooldownReset(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		RatePerMinute: 600,
		Burst:         1,
		PenaltyBase:   time.Millisecond,
		PenaltyMax:    4 * time.Millisecond,
		Cooldown:      30 * time.Millisecond,
	})

	l.observe(true)
	l.observe(true)
	require.Equal(t, 2, l.Level())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, l.Level())

	// After the reset, escalation starts over at the base penalty.
	assert.Equal(t, time.Millisecond, l.observe(true))
	assert.Equal(t, 1, l.Level())
}

func TestLimiterAcquireCanceled(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		RatePerMinute: 1, // one token per minute
		Burst:         1,
		PenaltyBase:   time.Millisecond,
		PenaltyMax:    time.Millisecond,
		Cooldown:      time.Hour,
	})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The canceled reservation returned its token: once a fresh token
	// refills the bucket stays usable.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.Error(t, l.Acquire(ctx2), "refill takes a minute, second acquire still blocks")
}

func TestLimiterDefaults(t *testing.T) {
	l := NewLimiter(LimiterConfig{})
	assert.Equal(t, time.Second, l.base)
	assert.Equal(t, 30*time.Second, l.max)
	assert.Equal(t, 60*time.Second, l.cooldown)
	assert.Equal(t, 5, l.bucket.Burst())
}
