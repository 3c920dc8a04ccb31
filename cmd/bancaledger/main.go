package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tiemposla/bancaledger/internal/audit"
	"github.com/tiemposla/bancaledger/internal/balance"
	"github.com/tiemposla/bancaledger/internal/cache"
	"github.com/tiemposla/bancaledger/internal/clock"
	"github.com/tiemposla/bancaledger/internal/commission"
	"github.com/tiemposla/bancaledger/internal/config"
	"github.com/tiemposla/bancaledger/internal/drawing"
	"github.com/tiemposla/bancaledger/internal/ledger"
	"github.com/tiemposla/bancaledger/internal/logger"
	"github.com/tiemposla/bancaledger/internal/lottery"
	"github.com/tiemposla/bancaledger/internal/migration"
	"github.com/tiemposla/bancaledger/internal/observability"
	"github.com/tiemposla/bancaledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,

		// Functional domains
		audit.Module,
		ledger.Module,
		lottery.Module,
		drawing.Module,
		commission.Module,
		balance.Module,
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
