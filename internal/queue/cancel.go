package queue

// Registry tracks cancellation watermarks per context.
// A directive never names the items it voids; instead every still-pending item
// in the same context with an earlier timestamp is voided when it is popped.
//
// Record overwrites rather than keeping the maximum, so the most recently
// processed directive wins. Callers that deliver directives out of order for
// one context get the watermark of whichever arrived last.
//
// Used by: Scheduler (on ingress of a directive, and at pop time)
// Thread-safe: No (the owning Scheduler serialises access)
type Registry[K comparable] struct {
	marks map[K]int64
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{
		marks: make(map[K]int64),
	}
}

// Record stores ts as the watermark for id.
func (r *Registry[K]) Record(id K, ts int64) {
	r.marks[id] = ts
}

// IsCancelled reports whether an item of context id stamped ts is voided.
// Cancellation only reaches backward: an item stamped at or after the
// watermark survives.
func (r *Registry[K]) IsCancelled(id K, ts int64) bool {
	mark, exists := r.marks[id]
	return exists && mark > ts
}

// Watermark returns the recorded watermark for id.
func (r *Registry[K]) Watermark(id K) (int64, bool) {
	mark, exists := r.marks[id]
	return mark, exists
}

// Len returns the number of contexts with a watermark.
func (r *Registry[K]) Len() int {
	return len(r.marks)
}
