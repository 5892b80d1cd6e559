package otel

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InstrumentationName names the meter and tracer used by the runtime.
const InstrumentationName = "github.com/petal-labs/petaltools"

// Providers bundles the SDK providers backing a ToolObserver.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// ProviderConfig configures NewProviders.
type ProviderConfig struct {
	// OTLPEndpoint is a host:port receiving OTLP/HTTP traces. Empty disables
	// trace export.
	OTLPEndpoint string
	// Insecure uses plain HTTP for the exporter.
	Insecure bool
	// MetricReader, when set, is attached to the meter provider.
	MetricReader sdkmetric.Reader
}

// NewProviders builds tracer and meter providers.
func NewProviders(ctx context.Context, cfg ProviderConfig) (*Providers, error) {
	var traceOpts []sdktrace.TracerProviderOption
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	var meterOpts []sdkmetric.Option
	if cfg.MetricReader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(cfg.MetricReader))
	}

	return &Providers{
		Tracer: sdktrace.NewTracerProvider(traceOpts...),
		Meter:  sdkmetric.NewMeterProvider(meterOpts...),
	}, nil
}

// Observer creates a ToolObserver on these providers.
func (p *Providers) Observer() (*ToolObserver, error) {
	return NewToolObserver(
		p.Meter.Meter(InstrumentationName),
		p.Tracer.Tracer(InstrumentationName),
	)
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}
