package tracing

import (
	"context"
	"log/slog"

	// Packages
	attribute "go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

//////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewLogProvider returns a tracer provider that writes every ended span to
// logger. It backs the trace setting when no collector is configured.
func NewLogProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	)
}

//////////////////////////////////////////////////////////////////////////////
// TYPES

type logProcessor struct {
	logger *slog.Logger
}

var _ sdktrace.SpanProcessor = (*logProcessor)(nil)

//////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	args := []any{
		"trace_id", s.SpanContext().TraceID().String(),
		"duration", s.EndTime().Sub(s.StartTime()),
		"status", s.Status().Code.String(),
	}
	for _, kv := range s.Attributes() {
		args = append(args, string(kv.Key), attrValue(kv.Value))
	}
	p.logger.Info(s.Name(), args...)
}

func (p *logProcessor) Shutdown(context.Context) error   { return nil }
func (p *logProcessor) ForceFlush(context.Context) error { return nil }

//////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func attrValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.INT64:
		return v.AsInt64()
	case attribute.BOOL:
		return v.AsBool()
	case attribute.FLOAT64:
		return v.AsFloat64()
	default:
		return v.Emit()
	}
}
