package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/shortyai/creditdesk/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideTokenBucket),
	fx.Provide(NewSubmitLimiter),
)

// provideTokenBucket returns nil when no redis address is configured.
func provideTokenBucket(lc fx.Lifecycle, cfg config.Config) *TokenBucket {
	addr := strings.TrimSpace(cfg.RateLimit.RedisAddr)
	if addr == "" {
		return nil
	}
	bucket := NewTokenBucket(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	}))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return bucket.Close()
		},
	})
	return bucket
}
