package queue

import "sync"

// Yield arranges for fn to run later without re-entering the caller's stack.
// It is the only suspension point of a Scheduler.
//
// Whether a panicking callback aborts the rest of a drain episode is decided
// by the Yield implementation, not by the Scheduler.
type Yield func(fn func())

// Immediate is the Yield of a fully synchronous host: it calls fn directly.
// A drain episode then runs to completion inside the ingress call that started
// it, recursing once per tick.
func Immediate(fn func()) { fn() }

// Deferred is a next-tick host. Scheduled callbacks wait in FIFO order until
// Flush runs them. The zero value is ready to use.
type Deferred struct {
	mu      sync.Mutex
	pending []func()
}

// Yield queues fn. Pass the method value as a queue.Yield.
func (d *Deferred) Yield(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, fn)
}

// Len returns the number of queued callbacks.
func (d *Deferred) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Step runs the oldest queued callback, if any, and reports whether it ran one.
func (d *Deferred) Step() bool {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return false
	}
	fn := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	d.mu.Unlock()

	fn()
	return true
}

// Flush runs callbacks until none are queued, including ones scheduled while
// flushing. It returns how many ran.
func (d *Deferred) Flush() int {
	n := 0
	for d.Step() {
		n++
	}
	return n
}
