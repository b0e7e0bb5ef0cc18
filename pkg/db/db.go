package db

import (
	"context"
	"fmt"

	"github.com/shortyai/creditdesk/internal/config"
	obslogger "github.com/shortyai/creditdesk/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(ConfigFrom),
	fx.Provide(provide),
)

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg Config
	App config.Config
	Log *zap.Logger
}

func provide(p Params) (*gorm.DB, error) {
	conn, err := Open(p.Cfg, !p.App.IsProduction())
	if err != nil {
		return nil, err
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	p.Log.Named("db").Info("database connected", zap.String("type", p.Cfg.Type), zap.String("name", p.Cfg.Name))
	return conn, nil
}

// Open connects, tunes the pool and installs the tracing and metrics plugins.
func Open(cfg Config, debug bool) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewGormLogger(debug),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Name))); err != nil {
		return nil, fmt.Errorf("install otelgorm: %w", err)
	}
	if err := conn.Use(gormprom.New(gormprom.Config{
		DBName:          cfg.Name,
		RefreshInterval: 15,
	})); err != nil {
		return nil, fmt.Errorf("install gorm prometheus: %w", err)
	}

	return conn, nil
}
