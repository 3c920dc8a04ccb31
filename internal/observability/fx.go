package observability

import (
	"github.com/tiemposla/bancaledger/internal/config"
	"github.com/tiemposla/bancaledger/internal/observability/metrics"
	"go.uber.org/fx"
)

// Module wires the OTEL meter provider and domain instruments.
var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OTelEnabled,
		ExporterEndpoint: cfg.OTelExporterEndpoint,
		ExporterProtocol: cfg.OTelExporterProtocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}
