// Package telemetry wires distributed tracing and basic metrics around
// the three operations worth watching in production: a provider stream
// call, a tool execution, and a compaction run. Grounded on the
// real go.opentelemetry.io/otel SDK wiring pattern (exporter, resource,
// sampler, TracerProvider), generalized from the per-operation span
// points the teacher's internal/agent/loop_tracing.go records (an
// LLM-call span, a tool-call span, an agent/run span) onto real OTLP
// export instead of the teacher's bespoke Postgres span collector.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the Telemetry provider. An empty Endpoint yields a
// no-op Telemetry (traces created but never exported) so callers can
// wire Telemetry unconditionally and let config decide whether it does
// anything.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP collector address (e.g. "localhost:4317" for
	// gRPC, "localhost:4318" for HTTP). Empty disables export.
	Endpoint string
	// Protocol selects the OTLP transport: "grpc" (default) or "http".
	Protocol string
	Insecure bool

	// SamplingRate is the fraction of traces recorded, 0.0-1.0. Defaults
	// to 1.0.
	SamplingRate float64
}

// Telemetry holds the tracer and meter used across a process's
// provider/tool/compaction call sites.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	toolCalls      metric.Int64Counter
	providerCalls  metric.Int64Counter
	compactionRuns metric.Int64Counter
}

// New builds a Telemetry from cfg. If cfg.Endpoint is empty, the
// returned Telemetry still creates real spans (via the global otel
// no-op provider) but nothing is exported; shutdown is a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, func(context.Context) error, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "agentcore"
	}

	if cfg.Endpoint == "" {
		return &Telemetry{
			tracer: otel.Tracer(name),
			meter:  otel.Meter(name),
		}, func(context.Context) error { return nil }, nil
	}

	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: span exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	meter := mp.Meter(name)
	t := &Telemetry{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(name),
		meter:          meter,
	}

	t.toolCalls, err = meter.Int64Counter("agentcore.tool.calls", metric.WithDescription("tool executions by name and outcome"))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: tool counter: %w", err)
	}
	t.providerCalls, err = meter.Int64Counter("agentcore.provider.calls", metric.WithDescription("provider stream calls by provider/model"))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: provider counter: %w", err)
	}
	t.compactionRuns, err = meter.Int64Counter("agentcore.compaction.runs", metric.WithDescription("prune/compact runs by kind"))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: compaction counter: %w", err)
	}

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return t, shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

// StartProviderSpan opens a span around one provider.Stream call.
func (t *Telemetry) StartProviderSpan(ctx context.Context, providerID, modelID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, fmt.Sprintf("provider.stream %s/%s", providerID, modelID), trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.id", providerID),
			attribute.String("provider.model", modelID),
		))
}

// StartToolSpan opens a span around one tool execution.
func (t *Telemetry) StartToolSpan(ctx context.Context, toolName, toolCallID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, fmt.Sprintf("tool.execute %s", toolName), trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("tool.call_id", toolCallID),
		))
}

// StartCompactionSpan opens a span around one prune or compact run.
func (t *Telemetry) StartCompactionSpan(ctx context.Context, sessionID, kind string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, fmt.Sprintf("compaction.%s", kind), trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("compaction.kind", kind),
		))
}

// EndToolSpan closes a tool span, recording err if non-nil and
// incrementing the tool-call counter.
func (t *Telemetry) EndToolSpan(ctx context.Context, span trace.Span, toolName string, err error) {
	recordOutcome(span, err)
	span.End()
	if t == nil || t.toolCalls == nil {
		return
	}
	t.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.Bool("error", err != nil),
	))
}

// EndProviderSpan closes a provider span, recording err if non-nil and
// incrementing the provider-call counter.
func (t *Telemetry) EndProviderSpan(ctx context.Context, span trace.Span, providerID, modelID string, err error) {
	recordOutcome(span, err)
	span.End()
	if t == nil || t.providerCalls == nil {
		return
	}
	t.providerCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("provider.model", modelID),
		attribute.Bool("error", err != nil),
	))
}

// EndCompactionSpan closes a compaction span, recording err if non-nil
// and incrementing the compaction-run counter.
func (t *Telemetry) EndCompactionSpan(ctx context.Context, span trace.Span, kind string, err error) {
	recordOutcome(span, err)
	span.End()
	if t == nil || t.compactionRuns == nil {
		return
	}
	t.compactionRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("compaction.kind", kind),
		attribute.Bool("error", err != nil),
	))
}

func recordOutcome(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
