package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerEntries     metric.Int64Counter
	ledgerReversals   metric.Int64Counter
	transfers         metric.Int64Counter
	drawingsEvaluated metric.Int64Counter
	balanceRecomputes metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bancaledger"
	}
	meter := provider.Meter(name)

	ledgerEntries, err := meter.Int64Counter("bancaledger_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	ledgerReversals, err := meter.Int64Counter("bancaledger_ledger_reversals_total")
	if err != nil {
		return nil, err
	}
	transfers, err := meter.Int64Counter("bancaledger_transfers_total")
	if err != nil {
		return nil, err
	}
	drawingsEvaluated, err := meter.Int64Counter("bancaledger_drawings_evaluated_total")
	if err != nil {
		return nil, err
	}
	balanceRecomputes, err := meter.Int64Counter("bancaledger_balance_recomputes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerEntries:     ledgerEntries,
		ledgerReversals:   ledgerReversals,
		transfers:         transfers,
		drawingsEvaluated: drawingsEvaluated,
		balanceRecomputes: balanceRecomputes,
	}, nil
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("entry_type", strings.TrimSpace(entryType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerReversal increments reversal counts.
func (m *Metrics) RecordLedgerReversal(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("entry_type", strings.TrimSpace(entryType)))
	m.ledgerReversals.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransfer increments transfer counts.
func (m *Metrics) RecordTransfer(ctx context.Context) {
	if m == nil {
		return
	}
	m.transfers.Add(ctx, 1)
}

// RecordDrawingEvaluated increments settled drawing counts.
func (m *Metrics) RecordDrawingEvaluated(ctx context.Context, hasWinner bool) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("has_winner", strconv.FormatBool(hasWinner)))
	m.drawingsEvaluated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBalanceRecompute increments downstream recompute counts.
func (m *Metrics) RecordBalanceRecompute(ctx context.Context, ownerType string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("owner_type", strings.TrimSpace(ownerType)))
	m.balanceRecomputes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"entry_type": {},
	"has_winner": {},
	"owner_type": {},
}

func filterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.AsString() == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}
