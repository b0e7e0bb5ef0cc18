package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/shortyai/creditdesk/internal/config"
	"github.com/shortyai/creditdesk/internal/migration"
	"github.com/shortyai/creditdesk/internal/observability"
	"github.com/shortyai/creditdesk/internal/scheduler"
	"github.com/shortyai/creditdesk/internal/server"
	"github.com/shortyai/creditdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

// RegisterSnowflake requires SNOWFLAKE_NODE to differ per replica.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
