package transport

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxEscalationLevel caps the penalty escalator.
const maxEscalationLevel = 5

// LimiterConfig tunes the send rate limiter.
type LimiterConfig struct {
	// RatePerMinute is the sustained send budget (default 30).
	RatePerMinute int
	// Burst is the token bucket capacity (default 5).
	Burst int
	// PenaltyBase is the escalator step at level 1 (default 1s).
	PenaltyBase time.Duration
	// PenaltyMax caps the escalator step (default 30s).
	PenaltyMax time.Duration
	// Cooldown of quiet sends resets the escalator (default 60s).
	Cooldown time.Duration
}

// Limiter gates outbound sends with a token bucket refilled at
// RatePerMinute/60 tokens per second. Sends that keep finding the bucket
// empty ratchet up an escalation level, each adding min(base·2^(n-1), max)
// of extra sleep before the send goes out.
type Limiter struct {
	bucket *rate.Limiter

	mu            sync.Mutex
	level         int
	base          time.Duration
	max           time.Duration
	cooldown      time.Duration
	lastDepletion time.Time
}

// NewLimiter creates a limiter from the given configuration, filling in
// defaults for zero values.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.PenaltyBase <= 0 {
		cfg.PenaltyBase = time.Second
	}
	if cfg.PenaltyMax <= 0 {
		cfg.PenaltyMax = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Burst),
		base:     cfg.PenaltyBase,
		max:      cfg.PenaltyMax,
		cooldown: cfg.Cooldown,
	}
}

// Acquire blocks until a send slot is available: the token refill wait
// plus any escalation penalty. Cancelling the context returns the
// reserved token and aborts the wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reservation := l.bucket.Reserve()
	delay := reservation.Delay()
	wait := delay + l.observe(delay > 0)
	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Level reports the current escalation level, accounting for cooldown.
func (l *Limiter) Level() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetLocked(time.Now())
	return l.level
}

// observe records whether this send found the bucket empty and returns
// the penalty to apply.
func (l *Limiter) observe(depleted bool) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.maybeResetLocked(now)
	if !depleted {
		return 0
	}
	if l.level < maxEscalationLevel {
		l.level++
	}
	l.lastDepletion = now
	return l.penaltyLocked()
}

func (l *Limiter) maybeResetLocked(now time.Time) {
	if l.level > 0 && now.Sub(l.lastDepletion) >= l.cooldown {
		l.level = 0
	}
}

// penaltyLocked computes min(base·2^(level-1), max).
func (l *Limiter) penaltyLocked() time.Duration {
	penalty := l.base
	for i := 1; i < l.level; i++ {
		penalty *= 2
		if penalty >= l.max {
			return l.max
		}
	}
	if penalty > l.max {
		return l.max
	}
	return penalty
}
