package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type job struct {
	ID     string
	Ctx    string
	TS     int64
	Cancel bool
}

func (j job) Timestamp() int64 { return j.TS }

func jobConfig() Config[job, string] {
	return Config[job, string]{
		IsCancel:  func(j job) bool { return j.Cancel },
		ContextID: func(j job) (string, bool) { return j.Ctx, j.Ctx != "" },
	}
}

// outcome is one sink call.
type outcome struct {
	Sink string
	Job  job
}

type recorder struct {
	mu    sync.Mutex
	calls []outcome
}

func (r *recorder) dispatch(j job) { r.add("dispatch", j) }
func (r *recorder) cancel(j job)   { r.add("cancel", j) }

func (r *recorder) add(sink string, j job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, outcome{Sink: sink, Job: j})
}

func (r *recorder) outcomes() []outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome(nil), r.calls...)
}

func (r *recorder) ids(sink string) []string {
	var ids []string
	for _, o := range r.outcomes() {
		if o.Sink == sink {
			ids = append(ids, o.Job.ID)
		}
	}
	return ids
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func TestScheduler_ProcessesMessage(t *testing.T) {
	rec := &recorder{}
	s := New(Immediate, jobConfig(), rec.dispatch, rec.cancel)

	s.Submit(job{ID: "1", Ctx: "1", TS: 0})

	assert.Equal(t, []outcome{{Sink: "dispatch", Job: job{ID: "1", Ctx: "1", TS: 0}}}, rec.outcomes())
	assert.False(t, s.Draining())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_CancelsMessage(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	s := New(host.Yield, jobConfig(), rec.dispatch, rec.cancel)

	s.Submit(job{ID: "1", Ctx: "1", TS: 0})
	s.Submit(job{ID: "2", Ctx: "2", TS: 0})
	s.Submit(job{ID: "2", Ctx: "2", TS: 1, Cancel: true})
	host.Flush()

	assert.Equal(t, []outcome{
		{Sink: "dispatch", Job: job{ID: "1", Ctx: "1", TS: 0}},
		{Sink: "cancel", Job: job{ID: "2", Ctx: "2", TS: 0}},
	}, rec.outcomes())
}

func TestScheduler_CancelsOnlyEarlierItemsInContext(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	s := New(host.Yield, jobConfig(), rec.dispatch, rec.cancel)

	s.Submit(job{ID: "a", Ctx: "1", TS: 0})
	s.Submit(job{ID: "b", Ctx: "2", TS: 0})
	s.Submit(job{ID: "c", Ctx: "2", TS: 5})
	s.Submit(job{ID: "d", Ctx: "2", TS: 10})
	s.Submit(job{Ctx: "2", TS: 9, Cancel: true})
	host.Flush()

	assert.Equal(t, []string{"a", "d"}, rec.ids("dispatch"))
	assert.Equal(t, []string{"b", "c"}, rec.ids("cancel"))
}

func TestScheduler_PriorityOrder(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	cfg := jobConfig()
	cfg.Compare = func(a, b job) bool { return a.ID < b.ID }
	s := New(host.Yield, cfg, rec.dispatch, rec.cancel)

	// 3 dispatches alone; 1 and 2 arrive while its tick is pending.
	s.Submit(job{ID: "3", Ctx: "3"})
	s.Submit(job{ID: "2", Ctx: "2"})
	s.Submit(job{ID: "1", Ctx: "1"})
	host.Flush()

	assert.Equal(t, []string{"3", "1", "2"}, rec.ids("dispatch"))
	assert.Empty(t, rec.ids("cancel"))
}

func TestScheduler_ImmediateHostDispatchesInArrivalOrder(t *testing.T) {
	rec := &recorder{}
	cfg := jobConfig()
	cfg.Compare = func(a, b job) bool { return a.ID < b.ID }
	s := New(Immediate, cfg, rec.dispatch, rec.cancel)

	s.Submit(job{ID: "3"})
	s.Submit(job{ID: "2"})
	s.Submit(job{ID: "1"})

	assert.Equal(t, []string{"3", "2", "1"}, rec.ids("dispatch"))
}

func TestScheduler_UndefinedContextCancellationIsNoop(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	events := &eventLog{}
	s := New(host.Yield, jobConfig(), rec.dispatch, rec.cancel, WithObserver(events))

	s.Submit(job{ID: "a", Ctx: "x", TS: 0})
	s.Submit(job{ID: "b", Ctx: "x", TS: 1})
	assert.NotPanics(t, func() {
		s.Submit(job{TS: 5, Cancel: true})
	})
	host.Flush()

	assert.Equal(t, []string{"a", "b"}, rec.ids("dispatch"))
	assert.Empty(t, rec.ids("cancel"))
	assert.Equal(t, 0, s.Stats().Watermarks)
	assert.Equal(t, 1, events.count(KindDirectiveDropped))
}

func TestScheduler_NilContextExtractorDisablesCancellation(t *testing.T) {
	rec := &recorder{}
	cfg := jobConfig()
	cfg.ContextID = nil
	s := New(Immediate, cfg, rec.dispatch, rec.cancel)

	s.Submit(job{ID: "c", Ctx: "1", TS: 9, Cancel: true})
	s.Submit(job{ID: "a", Ctx: "1", TS: 0})

	assert.Equal(t, []string{"a"}, rec.ids("dispatch"))
	assert.Empty(t, rec.ids("cancel"))
}

func TestScheduler_DefaultsNeverCancel(t *testing.T) {
	rec := &recorder{}
	s := New(nil, Config[job, string]{}, rec.dispatch, rec.cancel)

	s.Submit(job{ID: "a", Ctx: "1", TS: 0})
	s.Submit(job{ID: "b", Ctx: "1", TS: 5, Cancel: true})

	assert.Equal(t, []string{"a", "b"}, rec.ids("dispatch"), "without a classifier every message is work")
}

func TestScheduler_DirectiveOnIdleSettles(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	events := &eventLog{}
	s := New(host.Yield, jobConfig(), rec.dispatch, rec.cancel, WithObserver(events))

	s.Submit(job{Ctx: "1", TS: 3, Cancel: true})

	assert.False(t, s.Draining())
	assert.Equal(t, 0, host.Len())
	assert.Equal(t, []EventKind{KindDirective, KindDrainStarted, KindSettled}, events.kinds())

	// Later work for the context is still subject to the watermark.
	s.Submit(job{ID: "old", Ctx: "1", TS: 2})
	s.Submit(job{ID: "new", Ctx: "1", TS: 3})
	host.Flush()
	assert.Equal(t, []string{"old"}, rec.ids("cancel"))
	assert.Equal(t, []string{"new"}, rec.ids("dispatch"))
}

func TestScheduler_SettleTickFollowsLastPop(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	s := New(host.Yield, jobConfig(), rec.dispatch, rec.cancel)

	s.Submit(job{ID: "a", TS: 0})
	s.Submit(job{ID: "b", TS: 1})
	s.Submit(job{ID: "c", TS: 2})
	require.True(t, s.Draining())

	// Two pops plus one settle tick.
	assert.Equal(t, 3, host.Flush())
	assert.False(t, s.Draining())

	assert.Equal(t, 0, host.Flush())
	assert.Len(t, rec.outcomes(), 3)
}

func TestScheduler_ExactlyOnceDelivery(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	s := New(host.Yield, jobConfig(), rec.dispatch, rec.cancel)

	rnd := rand.New(rand.NewSource(7))
	submitted := map[string]bool{}
	for i := 0; i < 500; i++ {
		ctx := fmt.Sprintf("ctx-%d", rnd.Intn(8))
		if rnd.Intn(10) == 0 {
			s.Submit(job{Ctx: ctx, TS: int64(i), Cancel: true})
		} else {
			id := fmt.Sprintf("job-%d", i)
			submitted[id] = true
			s.Submit(job{ID: id, Ctx: ctx, TS: int64(i)})
		}
		if rnd.Intn(4) == 0 {
			host.Step()
		}
	}
	host.Flush()

	seen := map[string]int{}
	for _, o := range rec.outcomes() {
		seen[o.Job.ID]++
	}
	assert.Len(t, seen, len(submitted))
	for id := range submitted {
		assert.Equal(t, 1, seen[id], "job %s", id)
	}
	assert.False(t, s.Draining())
}

func TestScheduler_CompactsDuringDrain(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	events := &eventLog{}
	cfg := jobConfig()
	cfg.CompactThreshold = 2
	s := New(host.Yield, cfg, rec.dispatch, rec.cancel, WithObserver(events))

	for i := 0; i < 10; i++ {
		s.Submit(job{ID: fmt.Sprint(i), TS: int64(i)})
	}
	host.Flush()

	assert.Positive(t, events.count(KindCompacted))
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, rec.ids("dispatch"))
	assert.LessOrEqual(t, s.Stats().Slack, 2)
}

func TestScheduler_ZeroThresholdUsesDefault(t *testing.T) {
	var host Deferred
	events := &eventLog{}
	s := New(host.Yield, jobConfig(), nil, nil, WithObserver(events))

	for i := 0; i < 50; i++ {
		s.Submit(job{TS: int64(i)})
	}
	host.Flush()

	// The first item popped before the rest arrived, so its slot was reused.
	assert.Zero(t, events.count(KindCompacted))
	assert.Equal(t, 49, s.Stats().Slack)
}

func TestScheduler_SinkMaySubmit(t *testing.T) {
	var rec recorder
	var s *Scheduler[job, string]
	dispatch := func(j job) {
		rec.dispatch(j)
		if j.ID == "parent" {
			s.Submit(job{ID: "child", TS: j.TS + 1})
		}
	}
	s = New(Immediate, jobConfig(), dispatch, rec.cancel)

	s.Submit(job{ID: "parent"})

	assert.Equal(t, []string{"parent", "child"}, rec.ids("dispatch"))
	assert.False(t, s.Draining())
}

func TestScheduler_SinkPanicAbandonsEpisode(t *testing.T) {
	var host Deferred
	rec := &recorder{}
	events := &eventLog{}
	dispatch := func(j job) {
		if j.ID == "boom" {
			panic("sink failed")
		}
		rec.dispatch(j)
	}
	s := New(host.Yield, jobConfig(), dispatch, rec.cancel, WithObserver(events))

	s.Submit(job{ID: "a", TS: 0})
	s.Submit(job{ID: "boom", TS: 1})
	s.Submit(job{ID: "c", TS: 2})

	assert.PanicsWithValue(t, "sink failed", func() { host.Flush() })
	assert.False(t, s.Draining())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, events.count(KindSinkPanic))

	// The next ingress starts a fresh episode and reaches the leftover item.
	s.Submit(job{ID: "d", TS: 3})
	host.Flush()
	assert.Equal(t, []string{"a", "c", "d"}, rec.ids("dispatch"))
	assert.False(t, s.Draining())
}

func TestScheduler_WaitIdle(t *testing.T) {
	var host Deferred
	s := New(host.Yield, jobConfig(), nil, nil)

	require.NoError(t, s.WaitIdle(context.Background()))

	s.Submit(job{TS: 0})
	s.Submit(job{TS: 1})
	require.True(t, s.Draining())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitIdle(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- s.WaitIdle(context.Background()) }()
	host.Flush()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not return after the drain settled")
	}
}

func TestScheduler_ObserverSequence(t *testing.T) {
	events := &eventLog{}
	s := New(Immediate, jobConfig(), nil, nil, WithObserver(events), WithName("builds"))

	s.Submit(job{ID: "a", Ctx: "x", TS: 4})

	assert.Equal(t, []EventKind{KindQueued, KindDrainStarted, KindDispatched, KindSettled}, events.kinds())
	events.mu.Lock()
	defer events.mu.Unlock()
	dispatched := events.events[2]
	assert.Equal(t, "builds", dispatched.Scheduler)
	assert.Equal(t, "x", dispatched.Context)
	assert.Equal(t, int64(4), dispatched.Timestamp)
	assert.Equal(t, job{ID: "a", Ctx: "x", TS: 4}, dispatched.Item)
}

func TestFactory_SchedulersDoNotShareCancellations(t *testing.T) {
	var host Deferred
	factory := NewFactory(host.Yield, jobConfig())

	recA, recB := &recorder{}, &recorder{}
	a := factory.Bind(recA.dispatch, recA.cancel)
	b := factory.Bind(recB.dispatch, recB.cancel)

	a.Submit(job{ID: "a0", Ctx: "shared", TS: 0})
	b.Submit(job{ID: "b0", Ctx: "shared", TS: 0})
	a.Submit(job{ID: "a1", Ctx: "shared", TS: 1})
	b.Submit(job{ID: "b1", Ctx: "shared", TS: 1})
	a.Submit(job{Ctx: "shared", TS: 5, Cancel: true})
	host.Flush()

	assert.Equal(t, []string{"a1"}, recA.ids("cancel"))
	assert.Equal(t, []string{"b0", "b1"}, recB.ids("dispatch"))
	assert.Empty(t, recB.ids("cancel"))
}

func TestScheduler_ConcurrentProducers(t *testing.T) {
	var running, overlap atomic.Int32
	var delivered atomic.Int64
	sink := func(job) {
		if running.Add(1) > 1 {
			overlap.Store(1)
		}
		delivered.Add(1)
		running.Add(-1)
	}
	goYield := func(fn func()) { go fn() }
	s := New(goYield, jobConfig(), sink, sink)

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Submit(job{Ctx: fmt.Sprint(p), TS: int64(i)})
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))

	assert.Equal(t, int64(producers*perProducer), delivered.Load())
	assert.Zero(t, overlap.Load(), "sinks ran concurrently")
	assert.Equal(t, 0, s.Len())
}
