// Package tracing wraps scheduler sinks in OpenTelemetry spans.
package tracing

import (
	"context"
	"fmt"

	// Packages
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	trace "go.opentelemetry.io/otel/trace"

	"github.com/billie-coop/jobq/internal/queue"
)

//////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	SpanDispatch = "jobq.dispatch"
	SpanCancel   = "jobq.cancel"

	AttrContext   = attribute.Key("jobq.context")
	AttrTimestamp = attribute.Key("jobq.timestamp")
	AttrScheduler = attribute.Key("jobq.scheduler")
)

//////////////////////////////////////////////////////////////////////////////
// TYPES

// AttributesFn returns extra span attributes for a message.
type AttributesFn[M any] func(M) []attribute.KeyValue

//////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WrapSink returns a sink that runs sink inside a span named name, parented on
// ctx. A panic from sink is recorded on the span, which is ended, and then
// re-raised. A nil tracer or nil sink returns sink unchanged.
func WrapSink[M queue.Timestamped](ctx context.Context, t trace.Tracer, name string, attrs AttributesFn[M], sink queue.Sink[M]) queue.Sink[M] {
	if t == nil || sink == nil {
		return sink
	}

	return func(msg M) {
		kv := []attribute.KeyValue{AttrTimestamp.Int64(msg.Timestamp())}
		if attrs != nil {
			kv = append(kv, attrs(msg)...)
		}

		_, span := t.Start(ctx, name,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(kv...),
		)
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("sink panicked: %v", r)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				panic(r)
			}
			span.End()
		}()

		sink(msg)
	}
}
