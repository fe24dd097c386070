package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	// Packages
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracetest "go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/billie-coop/jobq/internal/queue"
)

type job struct {
	ctx string
	ts  int64
}

func (j job) Timestamp() int64 { return j.ts }

func newTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return recorder, provider
}

func attr(kvs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func Test_WrapSink_RecordsSpans(t *testing.T) {
	recorder, provider := newTracer(t)
	tracer := provider.Tracer("jobq-test")

	var got []job
	sink := WrapSink[job](context.Background(), tracer, SpanDispatch,
		func(j job) []attribute.KeyValue { return []attribute.KeyValue{AttrContext.String(j.ctx)} },
		func(j job) { got = append(got, j) },
	)

	s := queue.New(queue.Immediate, queue.Config[job, string]{}, sink, nil)
	s.Submit(job{ctx: "build", ts: 3})

	require.Len(t, got, 1)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanDispatch, spans[0].Name())

	v, ok := attr(spans[0].Attributes(), AttrTimestamp)
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())
	v, ok = attr(spans[0].Attributes(), AttrContext)
	require.True(t, ok)
	assert.Equal(t, "build", v.AsString())
}

func Test_WrapSink_PanicEndsSpan(t *testing.T) {
	recorder, provider := newTracer(t)

	sink := WrapSink[job](context.Background(), provider.Tracer("jobq-test"), SpanCancel, nil,
		func(job) { panic("lost") },
	)

	assert.PanicsWithValue(t, "lost", func() { sink(job{ts: 1}) })

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events(), "error is recorded as a span event")
}

func Test_WrapSink_Passthrough(t *testing.T) {
	assert.Nil(t, WrapSink[job](context.Background(), nil, SpanDispatch, nil, nil))

	called := false
	var sink queue.Sink[job] = func(job) { called = true }
	wrapped := WrapSink[job](context.Background(), nil, SpanDispatch, nil, sink)
	wrapped(job{})
	assert.True(t, called)
}

func Test_NewLogProvider(t *testing.T) {
	var buf bytes.Buffer
	provider := NewLogProvider(slog.New(slog.NewTextHandler(&buf, nil)))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	sink := WrapSink[job](context.Background(), provider.Tracer("jobq-test"), SpanDispatch, nil, func(job) {})
	sink(job{ts: 42})

	assert.Contains(t, buf.String(), "msg="+SpanDispatch)
	assert.Contains(t, buf.String(), "jobq.timestamp=42")
}
