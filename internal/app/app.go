package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/billie-coop/jobq/internal/config"
	"github.com/billie-coop/jobq/internal/eventloop"
	"github.com/billie-coop/jobq/internal/events"
	"github.com/billie-coop/jobq/internal/logging"
	"github.com/billie-coop/jobq/internal/message"
	"github.com/billie-coop/jobq/internal/metrics"
	"github.com/billie-coop/jobq/internal/queue"
	"github.com/billie-coop/jobq/internal/tracing"
)

// Scheduler is the scheduler type every jobq command drives.
type Scheduler = queue.Scheduler[message.Message, string]

// App holds the scheduler and the services wired around it
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Scheduler  *Scheduler
	Classifier *message.Classifier
	Comparator *message.Comparator

	// Loop is the goroutine host, nil unless the host is "loop" and no
	// other yield was supplied.
	Loop *eventloop.Loop

	// Observers
	EventBroker *events.Broker
	Metrics     *metrics.Collector
	tally       *tally

	output io.Writer
}

// Option customises New.
type Option func(*options)

type options struct {
	logger *slog.Logger
	broker *events.Broker
	yield  queue.Yield
	tracer trace.Tracer
	output io.Writer
}

// WithLogger sets the base logger. Components derive their own from it.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventBroker publishes scheduler and run events to broker.
func WithEventBroker(broker *events.Broker) Option {
	return func(o *options) { o.broker = broker }
}

// WithYield hosts the scheduler on yield instead of the configured host.
// The monitor uses it to run drain ticks on the Bubble Tea loop.
func WithYield(yield queue.Yield) Option {
	return func(o *options) { o.yield = yield }
}

// WithTracer wraps both sinks in spans from tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithOutput writes one line per sink call to w.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// New creates an app with all services initialized
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{output: io.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.broker == nil {
		o.broker = events.NewBroker(0)
	}

	classifier, err := message.NewClassifier(cfg.CancelWhen)
	if err != nil {
		return nil, fmt.Errorf("failed to compile cancel_when: %w", err)
	}
	comparator, err := message.NewComparator(cfg.PriorityOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to compile priority_order: %w", err)
	}

	a := &App{
		Config:      cfg,
		Logger:      o.logger,
		Classifier:  classifier,
		Comparator:  comparator,
		EventBroker: o.broker,
		Metrics:     metrics.New(),
		tally:       newTally(),
		output:      o.output,
	}

	yield := o.yield
	if yield == nil {
		switch cfg.Host {
		case config.HostImmediate:
			yield = queue.Immediate
		default:
			a.Loop = eventloop.New(eventloop.WithLogger(logging.Component(o.logger, "eventloop")))
			yield = a.Loop.Schedule
		}
	}

	dispatch, cancel := a.sinks(o.tracer)
	a.Scheduler = queue.New(yield, queue.Config[message.Message, string]{
		Compare:          comparator.Less,
		IsCancel:         classifier.IsCancel,
		ContextID:        message.ContextField(cfg.ContextField),
		CompactThreshold: cfg.CompactThreshold,
	}, dispatch, cancel,
		queue.WithName(cfg.Name),
		queue.WithLogger(logging.Component(o.logger, "scheduler")),
		queue.WithObserver(queue.Observers(a.tally, a.EventBroker, a.Metrics)),
	)
	a.Metrics.Track(cfg.Name, a.Scheduler.Stats)

	return a, nil
}

// sinks builds the dispatch and cancel sinks, wrapped in spans when a tracer
// is configured.
func (a *App) sinks(tracer trace.Tracer) (dispatch, cancel queue.Sink[message.Message]) {
	contextOf := message.ContextField(a.Config.ContextField)
	line := func(verb string) queue.Sink[message.Message] {
		return func(m message.Message) {
			ctx, _ := contextOf(m)
			fmt.Fprintf(a.output, "%s %s ctx=%s ts=%d\n", verb, m.ID, ctx, m.TS)
		}
	}
	dispatch, cancel = line("dispatch"), line("cancel")

	if tracer == nil {
		return dispatch, cancel
	}
	attrs := func(m message.Message) []attribute.KeyValue {
		kv := []attribute.KeyValue{
			tracing.AttrScheduler.String(a.Config.Name),
			attribute.String("jobq.id", m.ID),
		}
		if ctx, ok := contextOf(m); ok {
			kv = append(kv, tracing.AttrContext.String(ctx))
		}
		return kv
	}
	return tracing.WrapSink(context.Background(), tracer, tracing.SpanDispatch, attrs, dispatch),
		tracing.WrapSink(context.Background(), tracer, tracing.SpanCancel, attrs, cancel)
}
