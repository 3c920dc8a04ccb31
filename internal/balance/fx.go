package balance

import (
	balancedomain "github.com/tiemposla/bancaledger/internal/balance/domain"
	"github.com/tiemposla/bancaledger/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.service",
	fx.Provide(
		fx.Annotate(
			service.NewService,
			fx.As(new(balancedomain.Service)),
			fx.As(new(balancedomain.Invalidator)),
			fx.As(new(balancedomain.Recomputer)),
		),
	),
)
