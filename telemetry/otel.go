package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls how the tracer provider is constructed. Grounded on
// itsneelabh-gomind/telemetry's OTLP-vs-stdout exporter selection.
type Config struct {
	ServiceName   string
	OTLPEndpoint  string // empty disables OTLP export
	UseStdout     bool   // true routes spans to stdout instead (useful for local dev/tests)
	SamplingRatio float64
}

// InitTracerProvider builds and installs a global TracerProvider. Returns a
// shutdown func that must be called on process exit. When cfg is the zero
// value, or cfg.OTLPEndpoint is empty and UseStdout is false, an
// always-sample, exporter-less provider is installed so spans are created
// (and can be asserted on by tests hooking trace.SpanFromContext) without
// shipping anywhere.
func InitTracerProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentruntime"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	switch {
	case cfg.OTLPEndpoint != "":
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("building otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case cfg.UseStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("building stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer wraps the global tracer under a fixed instrumentation name, so
// every cycle-phase span carries consistent attribution.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartCyclePhase starts a span named "cycle.<phase>" tagged with the agent
// id and loop count, returning the derived context and a closer that should
// be deferred by the caller.
func (t *Tracer) StartCyclePhase(ctx context.Context, agentID, phase string, loopCount int64) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "cycle."+phase, trace.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.Int64("loop_count", loopCount),
	))
	return ctx, func() { span.End() }
}

// RecordError attaches an error to the span currently in ctx, if any.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}
