package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewMeterProvider builds a metric provider exporting over OTLP/gRPC to the
// given collector endpoint. The returned shutdown func flushes pending
// metrics.
func NewMeterProvider(ctx context.Context, endpoint, serviceName string) (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("observability: otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("observability: resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	return provider, provider.Shutdown, nil
}

// Metrics holds the decision core's counters. A nil *Metrics is a valid
// no-op receiver so components never need nil checks at call sites.
type Metrics struct {
	decisions        metric.Int64Counter
	rejections       metric.Int64Counter
	replays          metric.Int64Counter
	mismatches       metric.Int64Counter
	publishes        metric.Int64Counter
	checkpointBlocks metric.Int64Counter
}

// NewMetrics registers the core's instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.decisions, err = meter.Int64Counter("decision_core.decisions",
		metric.WithDescription("Decisions synthesized, by action kind")); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("decision_core.inlet_rejections",
		metric.WithDescription("Bus records rejected at the inlet gate, by reason")); err != nil {
		return nil, err
	}
	if m.replays, err = meter.Int64Counter("decision_core.ledger_replays",
		metric.WithDescription("Exact replays detected by the replay ledger")); err != nil {
		return nil, err
	}
	if m.mismatches, err = meter.Int64Counter("decision_core.ledger_mismatches",
		metric.WithDescription("Payload mismatches detected by the replay ledger")); err != nil {
		return nil, err
	}
	if m.publishes, err = meter.Int64Counter("decision_core.publishes",
		metric.WithDescription("Envelopes pushed to the ingestion gate, by outcome")); err != nil {
		return nil, err
	}
	if m.checkpointBlocks, err = meter.Int64Counter("decision_core.checkpoint_blocks",
		metric.WithDescription("Checkpoint commits blocked, by reason")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Decision(ctx context.Context, actionKind string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("action_kind", actionKind)))
}

func (m *Metrics) InletRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) LedgerReplay(ctx context.Context) {
	if m == nil {
		return
	}
	m.replays.Add(ctx, 1)
}

func (m *Metrics) LedgerMismatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.mismatches.Add(ctx, 1)
}

func (m *Metrics) Publish(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) CheckpointBlock(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.checkpointBlocks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
