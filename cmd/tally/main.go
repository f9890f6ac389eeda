package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/marahq/tally/internal/account"
	"github.com/marahq/tally/internal/clock"
	"github.com/marahq/tally/internal/config"
	"github.com/marahq/tally/internal/inference"
	"github.com/marahq/tally/internal/ledger"
	"github.com/marahq/tally/internal/metering"
	"github.com/marahq/tally/internal/migration"
	"github.com/marahq/tally/internal/observability"
	"github.com/marahq/tally/internal/pricing"
	"github.com/marahq/tally/internal/promotion"
	"github.com/marahq/tally/internal/ratelimit"
	"github.com/marahq/tally/internal/scheduler"
	"github.com/marahq/tally/internal/server"
	"github.com/marahq/tally/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		account.Module,
		ledger.Module,
		promotion.Module,
		pricing.Module,
		metering.Module,
		inference.Module,
		ratelimit.Module,

		migration.Module,
		scheduler.Module,
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
