package lottery

import (
	"github.com/tiemposla/bancaledger/internal/lottery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lottery.service",
	fx.Provide(service.NewService),
)
