// Package tracing wires the OpenTelemetry SDK: exporter selection, sampling,
// and the global tracer provider the rest of the server resolves spans from.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
)

const (
	defaultServiceName = "hubspot-mcp"
	tracerName         = "github.com/developer-mesh/hubspot-mcp"
)

// Config selects the exporter and sampling for the tracer provider.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is a gRPC collector address, e.g. "localhost:4317".
	OTLPEndpoint string
	// ZipkinEndpoint takes priority over OTLPEndpoint when both are set.
	ZipkinEndpoint string
	// SamplingRate in [0,1]; 1 samples everything.
	SamplingRate  float64
	ExportTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    defaultServiceName,
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   1.0,
		ExportTimeout:  30 * time.Second,
	}
}

// Provider owns the SDK tracer provider lifecycle.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// New builds the provider. Disabled configurations get a provider with no
// exporter and leave the otel globals untouched, so spans become no-ops.
func New(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 30 * time.Second
	}

	if !cfg.Enabled {
		return &Provider{
			provider: sdktrace.NewTracerProvider(),
			tracer:   otel.Tracer(tracerName),
		}, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("environment", cfg.Environment),
	))
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindConfig, "building trace resource")
	}

	exporter, err := exporterFor(cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
		enabled:  true,
	}, nil
}

// exporterFor picks Zipkin over OTLP when both endpoints are configured.
func exporterFor(cfg Config) (sdktrace.SpanExporter, error) {
	switch {
	case cfg.ZipkinEndpoint != "":
		exp, err := zipkin.New(cfg.ZipkinEndpoint)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.KindConfig, "creating zipkin exporter")
		}
		return exp, nil
	case cfg.OTLPEndpoint != "":
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithTimeout(cfg.ExportTimeout),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.KindConfig, "creating otlp exporter")
		}
		return exp, nil
	}
	return nil, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (p *Provider) Enabled() bool { return p.enabled }

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// StartSpan opens a span when tracing is enabled; otherwise it returns the
// span already on the context.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !p.enabled {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and stops the export pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
