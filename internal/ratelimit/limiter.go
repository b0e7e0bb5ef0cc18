package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shortyai/creditdesk/internal/config"
)

const keyPaymentSubmit = "payments:submit:%s"

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type backend interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (Result, error)
}

// SubmitLimiter throttles payment notifications per user.
type SubmitLimiter struct {
	backend backend
	rate    float64
	burst   int
}

func NewSubmitLimiter(cfg config.Config, bucket *TokenBucket) *SubmitLimiter {
	var b backend = NewLocalLimiter()
	if bucket != nil {
		b = bucket
	}
	return &SubmitLimiter{
		backend: b,
		rate:    cfg.RateLimit.SubmitRate,
		burst:   cfg.RateLimit.SubmitBurst,
	}
}

// Enabled is false when the configured rate or burst is not positive.
func (l *SubmitLimiter) Enabled() bool {
	return l != nil && l.rate > 0 && l.burst > 0
}

func (l *SubmitLimiter) Allow(ctx context.Context, userID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.backend.Allow(ctx, fmt.Sprintf(keyPaymentSubmit, strings.TrimSpace(userID)), l.rate, l.burst)
}
