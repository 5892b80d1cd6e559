// Package otel records tool runtime observations as OpenTelemetry metrics
// and spans.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petaltools/tool"
)

// ToolObserver records invocation, registration and rescan signals into
// OpenTelemetry.
type ToolObserver struct {
	tracer trace.Tracer

	invocations   metric.Int64Counter
	truncations   metric.Int64Counter
	registrations metric.Int64Counter
	rescans       metric.Int64Counter
	latency       metric.Float64Histogram
	rescanLatency metric.Float64Histogram
}

// NewToolObserver creates a tool observer bound to the provided meter/tracer.
// tracer may be nil to record metrics only.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	invocations, err := meter.Int64Counter(
		"petaltools.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	truncations, err := meter.Int64Counter(
		"petaltools.tool.truncations",
		metric.WithDescription("Number of tool results cut to the payload bound"),
	)
	if err != nil {
		return nil, err
	}
	registrations, err := meter.Int64Counter(
		"petaltools.tool.registrations",
		metric.WithDescription("Number of registration decisions by outcome"),
	)
	if err != nil {
		return nil, err
	}
	rescans, err := meter.Int64Counter(
		"petaltools.tool.rescans",
		metric.WithDescription("Number of tool directory rescans"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"petaltools.tool.latency",
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	rescanLatency, err := meter.Float64Histogram(
		"petaltools.tool.rescan.duration",
		metric.WithDescription("Rescan duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:        tracer,
		invocations:   invocations,
		truncations:   truncations,
		registrations: registrations,
		rescans:       rescans,
		latency:       latency,
		rescanLatency: rescanLatency,
	}, nil
}

// ObserveInvoke records one invocation result.
func (o *ToolObserver) ObserveInvoke(observation tool.InvokeObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.ToolName),
		attribute.String("kind", string(observation.Kind)),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, seconds(observation.DurationMS), options)
	if observation.Truncated {
		o.truncations.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_name", observation.ToolName)))
	}

	if o.tracer == nil {
		return
	}
	spanAttrs := append(attrs, attribute.String("request_id", observation.RequestID))
	_, span := o.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(spanAttrs...))
	if !observation.Success {
		span.SetStatus(codes.Error, observation.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ObserveRegistration records one registrar decision.
func (o *ToolObserver) ObserveRegistration(observation tool.RegistrationObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.ToolName),
		attribute.String("kind", string(observation.Kind)),
		attribute.String("outcome", observation.Outcome),
	}
	o.registrations.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// ObserveRescan records one rescan pass.
func (o *ToolObserver) ObserveRescan(observation tool.RescanObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("trigger", observation.Trigger),
	}
	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.rescans.Add(ctx, 1, options)
	o.rescanLatency.Record(ctx, seconds(observation.DurationMS), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "tool.rescan", trace.WithAttributes(
		attribute.String("trigger", observation.Trigger),
		attribute.Int("discovered", observation.Discovered),
		attribute.Int("added", observation.Added),
		attribute.Int("rebuilt", observation.Rebuilt),
		attribute.Int("failed", observation.Failed),
	))
	if observation.Failed > 0 {
		span.SetStatus(codes.Error, "rescan had failures")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func seconds(durationMS int64) float64 {
	return float64(time.Duration(durationMS)*time.Millisecond) / float64(time.Second)
}

var _ tool.Observer = (*ToolObserver)(nil)
