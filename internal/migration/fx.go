package migration

import (
	pkgdb "github.com/shortyai/creditdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg pkgdb.Config, log *zap.Logger) error {
		if err := Migrate(conn, cfg.Type); err != nil {
			return err
		}
		log.Named("migration").Info("schema up to date", zap.String("type", cfg.Type))
		return nil
	}),
)
