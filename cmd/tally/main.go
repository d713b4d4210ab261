package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tallyhq/tally/internal/migration"
	"github.com/tallyhq/tally/internal/observability"
	"github.com/tallyhq/tally/internal/server"
	"github.com/tallyhq/tally/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		// HTTP surface plus the domain modules it serves
		server.Module,
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
