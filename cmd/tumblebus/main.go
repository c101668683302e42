package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	"github.com/smallbiznis/tumblebus/internal/migration"
	"github.com/smallbiznis/tumblebus/internal/observability"
	"github.com/smallbiznis/tumblebus/internal/scheduler"
	"github.com/smallbiznis/tumblebus/internal/server"
	"github.com/smallbiznis/tumblebus/pkg/db"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Schema before anything reads the tables
		migration.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
