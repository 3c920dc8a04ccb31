package drawing

import (
	"github.com/tiemposla/bancaledger/internal/drawing/exclusion"
	"github.com/tiemposla/bancaledger/internal/drawing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("drawing.service",
	fx.Provide(exclusion.NewSource),
	fx.Provide(service.NewService),
)
