// Package telemetry wires OpenTelemetry tracing and RED-style metrics (run
// count, failed-run count, and a consumed-cost histogram in place of a
// duration histogram) for the sandbox run and judge paths.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the telemetry providers.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Enabled      bool
	Insecure     bool
}

// DefaultConfig returns a disabled configuration; callers set Enabled (and
// OTLPEndpoint) to turn telemetry on, since most local and CI invocations of
// the runner have no collector to send to.
func DefaultConfig() Config {
	return Config{
		ServiceName: "wark",
		Enabled:     false,
		Insecure:    true,
	}
}

// Provider holds the tracer/meter plus the run-path instruments.
type Provider struct {
	cfg            Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	runCounter    metric.Int64Counter
	runErrCounter metric.Int64Counter
	costHist      metric.Float64Histogram
}

// New builds a Provider. When cfg.Enabled is false, it returns a Provider
// whose methods are all safe no-ops, so callers need not branch on whether
// telemetry is configured.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{cfg: cfg}
	if !cfg.Enabled {
		slog.Info("telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	if err := p.initTracing(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer("wark")
	p.meter = otel.Meter("wark")
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	slog.Info("telemetry initialized", "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.runCounter, err = p.meter.Int64Counter("wark.runs.total", metric.WithDescription("Total sandboxed runs"))
	if err != nil {
		return err
	}
	p.runErrCounter, err = p.meter.Int64Counter("wark.runs.failed", metric.WithDescription("Runs that did not terminate with Exit(0)"))
	if err != nil {
		return err
	}
	p.costHist, err = p.meter.Float64Histogram("wark.run.consumed_cost",
		metric.WithDescription("Consumed cost per run"),
		metric.WithExplicitBucketBoundaries(1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000),
	)
	return err
}

// TrackRun starts a span for one sandboxed run and returns a function to
// call with its outcome (success, consumedCost) when it finishes.
func (p *Provider) TrackRun(ctx context.Context, name string) (context.Context, func(success bool, consumedCost uint64)) {
	if !p.cfg.Enabled {
		return ctx, func(bool, uint64) {}
	}

	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	p.runCounter.Add(ctx, 1)

	return ctx, func(success bool, consumedCost uint64) {
		if !success {
			p.runErrCounter.Add(ctx, 1)
		}
		p.costHist.Record(ctx, float64(consumedCost))
		span.End()
	}
}

// Shutdown drains exporters. Safe to call on a disabled Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("telemetry: trace provider shutdown", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			slog.Error("telemetry: meter provider shutdown", "error", err)
		}
	}
	return nil
}
