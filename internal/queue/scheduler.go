package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Factory holds the yield primitive and configuration shared by every
// scheduler bound from it. Each Bind creates independent state; nothing
// (including cancellation watermarks) leaks between schedulers.
type Factory[M Timestamped, K comparable] struct {
	yield    Yield
	config   Config[M, K]
	settings settings
}

// NewFactory creates a factory. A nil yield selects Immediate.
func NewFactory[M Timestamped, K comparable](yield Yield, config Config[M, K], opts ...Option) *Factory[M, K] {
	if yield == nil {
		yield = Immediate
	}

	st := defaultSettings()
	for _, opt := range opts {
		opt(&st)
	}

	return &Factory[M, K]{
		yield:    yield,
		config:   config.withDefaults(),
		settings: st,
	}
}

// Bind creates a scheduler that delivers popped items to dispatch, or to
// cancel when the item's context was cancelled after it was stamped.
func (f *Factory[M, K]) Bind(dispatch, cancel Sink[M]) *Scheduler[M, K] {
	return &Scheduler[M, K]{
		yield:    f.yield,
		config:   f.config,
		name:     f.settings.name,
		logger:   f.settings.logger,
		observer: f.settings.observer,
		dispatch: dispatch,
		cancel:   cancel,
		heap:     NewHeap(f.config.Compare),
		registry: NewRegistry[K](),
	}
}

// New is shorthand for NewFactory(yield, config, opts...).Bind(dispatch, cancel).
func New[M Timestamped, K comparable](yield Yield, config Config[M, K], dispatch, cancel Sink[M], opts ...Option) *Scheduler[M, K] {
	return NewFactory(yield, config, opts...).Bind(dispatch, cancel)
}

// Scheduler is the drain scheduler. It owns one Heap and one Registry and
// exposes Submit as its single ingress.
//
// A Scheduler is idle or draining. Only one drain episode runs at a time; the
// mutex lets producers on different goroutines share one scheduler, and sinks
// run outside it so they may call Submit themselves.
type Scheduler[M Timestamped, K comparable] struct {
	yield    Yield
	config   Config[M, K]
	name     string
	logger   *slog.Logger
	observer Observer
	dispatch Sink[M]
	cancel   Sink[M]

	mu       sync.Mutex
	heap     *Heap[M]
	registry *Registry[K]
	draining bool
	// settled is closed when the current drain episode ends.
	settled chan struct{}
}

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	Pending    int
	Slack      int
	Watermarks int
	Draining   bool
}

// Submit classifies msg and updates state. When the scheduler is idle it
// starts a drain episode and runs its first tick before returning; otherwise
// the running episode will reach the new state on a later tick.
//
// Submit never fails. A panic from a sink propagates out of whichever call
// ran the tick.
func (s *Scheduler[M, K]) Submit(msg M) {
	directive := s.config.IsCancel(msg)
	id, hasID := s.contextOf(msg)

	ev := Event{
		Kind:      KindQueued,
		Scheduler: s.name,
		Timestamp: msg.Timestamp(),
		Item:      msg,
	}
	if hasID {
		ev.Context = fmt.Sprint(id)
	}

	s.mu.Lock()
	switch {
	case directive && hasID:
		s.registry.Record(id, msg.Timestamp())
		ev.Kind = KindDirective
	case directive:
		ev.Kind = KindDirectiveDropped
	default:
		s.heap.Insert(msg)
	}
	start := !s.draining
	if start {
		s.draining = true
		s.settled = make(chan struct{})
	}
	ev.Pending = s.heap.Len()
	s.mu.Unlock()

	if ev.Kind == KindDirectiveDropped {
		s.logger.Debug("dropping cancellation without context",
			"scheduler", s.name, "ts", msg.Timestamp())
	}
	s.emit(ev)

	if !start {
		return
	}
	s.emit(Event{Kind: KindDrainStarted, Scheduler: s.name, Pending: ev.Pending})
	s.tick()
}

// tick runs one step of the drain loop: compact if needed, settle if empty,
// otherwise pop one item, deliver it and yield the next tick.
func (s *Scheduler[M, K]) tick() {
	s.mu.Lock()
	compacted := s.heap.CompactIfOver(s.config.CompactThreshold)
	if s.heap.IsEmpty() {
		s.settle()
		s.mu.Unlock()

		if compacted {
			s.emit(Event{Kind: KindCompacted, Scheduler: s.name})
		}
		s.emit(Event{Kind: KindSettled, Scheduler: s.name})
		return
	}

	item, ok := s.heap.PopMin()
	voided := ok && s.isCancelled(item)
	pending := s.heap.Len()
	s.mu.Unlock()

	if compacted {
		s.emit(Event{Kind: KindCompacted, Scheduler: s.name, Pending: pending + 1})
	}
	if ok {
		s.deliver(item, voided, pending)
	} else {
		// The heap claimed to be non-empty but had nothing to pop.
		s.emit(Event{Kind: KindEmptyPop, Scheduler: s.name, Pending: pending})
	}

	s.yield(s.tick)
}

func (s *Scheduler[M, K]) deliver(item M, voided bool, pending int) {
	sink, kind := s.dispatch, KindDispatched
	if voided {
		sink, kind = s.cancel, KindCancelled
	}

	delivered := false
	defer func() {
		if !delivered {
			s.abandon(item)
		}
	}()
	if sink != nil {
		sink(item)
	}
	delivered = true

	ev := Event{
		Kind:      kind,
		Scheduler: s.name,
		Timestamp: item.Timestamp(),
		Pending:   pending,
		Item:      item,
	}
	if id, ok := s.contextOf(item); ok {
		ev.Context = fmt.Sprint(id)
	}
	s.emit(ev)
}

// abandon ends the drain episode while a sink panic unwinds, so the next
// ingress starts a fresh episode instead of finding the scheduler stuck in
// the draining state with no tick scheduled.
func (s *Scheduler[M, K]) abandon(item M) {
	s.mu.Lock()
	s.settle()
	pending := s.heap.Len()
	s.mu.Unlock()

	s.logger.Error("sink panicked, drain episode abandoned",
		"scheduler", s.name, "ts", item.Timestamp(), "pending", pending)
	s.emit(Event{
		Kind:      KindSinkPanic,
		Scheduler: s.name,
		Timestamp: item.Timestamp(),
		Pending:   pending,
		Item:      item,
	})
}

// settle must be called with mu held.
func (s *Scheduler[M, K]) settle() {
	if !s.draining {
		return
	}
	s.draining = false
	close(s.settled)
}

// isCancelled must be called with mu held.
func (s *Scheduler[M, K]) isCancelled(item M) bool {
	id, ok := s.contextOf(item)
	return ok && s.registry.IsCancelled(id, item.Timestamp())
}

func (s *Scheduler[M, K]) contextOf(msg M) (K, bool) {
	if s.config.ContextID == nil {
		var zero K
		return zero, false
	}
	return s.config.ContextID(msg)
}

func (s *Scheduler[M, K]) emit(ev Event) {
	if s.observer != nil {
		s.observer.Observe(ev)
	}
}

// Draining reports whether a drain episode is in flight.
func (s *Scheduler[M, K]) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Len returns the number of pending work items.
func (s *Scheduler[M, K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Stats returns current queue metrics.
func (s *Scheduler[M, K]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:    s.heap.Len(),
		Slack:      s.heap.Slack(),
		Watermarks: s.registry.Len(),
		Draining:   s.draining,
	}
}

// WaitIdle blocks until the drain episode in flight, if any, settles.
// It does not wait for episodes started after it was called.
func (s *Scheduler[M, K]) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	if !s.draining {
		s.mu.Unlock()
		return nil
	}
	settled := s.settled
	s.mu.Unlock()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
