package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	localMaxKeys = 10_000
	localKeyTTL  = 30 * time.Minute
)

// LocalLimiter keeps one x/time/rate limiter per key in process memory.
// Idle keys expire, so a limiter may reset after localKeyTTL.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	now      func() time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](localMaxKeys, nil, localKeyTTL),
		now:      time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, r float64, burst int) (Result, error) {
	if key == "" {
		return Result{}, errEmptyKey
	}
	if r <= 0 || burst <= 0 {
		return Result{}, errBadRate
	}

	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r), burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()

	now := l.now()
	allowed := limiter.AllowN(now, 1)
	remaining := limiter.TokensAt(now)

	return Result{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(remaining),
		RetryAfter: retryAfter(allowed, remaining, r),
	}, nil
}
