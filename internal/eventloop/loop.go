// Package eventloop runs scheduled callbacks one at a time on a dedicated
// goroutine.
//
// A Loop is the goroutine-backed host for a queue.Scheduler: pass
// loop.Schedule as the scheduler's Yield and every drain tick after the first
// runs on the loop goroutine, in the order it was scheduled.
//
// Used by: app.Run (jobq run --host loop)
// Connects to: queue.Scheduler (as its Yield)
package eventloop

import (
	"context"
	"log/slog"
	"sync"
)

// Loop is a single-consumer FIFO of callbacks.
//
// Thread-safe: Schedule may be called from any goroutine, including from a
// callback running on the loop.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	// wake has capacity 1 so Schedule never blocks.
	wake chan struct{}

	logger *slog.Logger

	// Lifecycle for Start/Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics struct {
		sync.Mutex
		ran    int
		panics int
	}

	onPanic func(recovered any)
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// OnPanic sets a callback for panics recovered from scheduled callbacks.
// Useful for tests and for surfacing failures to a UI.
func OnPanic(fn func(recovered any)) Option {
	return func(l *Loop) {
		l.onPanic = fn
	}
}

// New creates a stopped loop. Call Run or Start to begin executing callbacks.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schedule queues fn to run on the loop goroutine. It never blocks and never
// runs fn on the caller's stack. Schedule has the signature of queue.Yield.
func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes callbacks until ctx is done. Callbacks still queued when ctx
// ends are left in place; a later Run picks them up.
// Run returns nil when ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.exec(fn)

			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Start runs the loop on a background goroutine until Stop is called.
func (l *Loop) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = l.Run(ctx)
	}()
}

// Stop ends a loop started with Start and waits for the running callback,
// if any, to return.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// Pending returns the number of callbacks waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Stats returns how many callbacks ran and how many of them panicked.
func (l *Loop) Stats() (ran, panics int) {
	l.metrics.Lock()
	defer l.metrics.Unlock()
	return l.metrics.ran, l.metrics.panics
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil, false
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn, true
}

// exec runs one callback. A panic is recovered so one failing callback does
// not take the loop down with it.
func (l *Loop) exec(fn func()) {
	defer func() {
		r := recover()

		l.metrics.Lock()
		l.metrics.ran++
		if r != nil {
			l.metrics.panics++
		}
		l.metrics.Unlock()

		if r == nil {
			return
		}
		l.logger.Error("scheduled callback panicked", "panic", r)
		if l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	fn()
}
