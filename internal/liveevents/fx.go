package liveevents

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/config"
	pkgdb "github.com/shortyai/creditdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("liveevents",
	fx.Provide(NewHub),
	fx.Provide(provideBridge),
	fx.Provide(provideBroadcaster),
	fx.Provide(func(b *Broadcaster) Publisher { return b }),
)

func provideBridge(cfg config.Config, dbCfg pkgdb.Config, log *zap.Logger) (Bridge, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Live.Bridge)) {
	case "", "none":
		return nil, nil
	case "redis":
		if cfg.RateLimit.RedisAddr == "" {
			return nil, fmt.Errorf("live bridge redis requires RATE_LIMIT_REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		return NewRedisBridge(client, cfg.Live.RedisChannel, log), nil
	case "postgres":
		dsn := cfg.Live.PostgresDSN
		if dsn == "" {
			dsn = pkgdb.PostgresDSN(dbCfg)
		}
		return NewPostgresBridge(context.Background(), dsn, cfg.Live.PostgresTopic, log)
	default:
		return nil, fmt.Errorf("unsupported live bridge %q", cfg.Live.Bridge)
	}
}

func provideBroadcaster(lc fx.Lifecycle, hub *Hub, bridge Bridge, clk clock.Clock, log *zap.Logger) *Broadcaster {
	b := NewBroadcaster(hub, bridge, clk, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			b.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return b.Stop()
		},
	})
	return b
}
