package queue

import (
	"container/heap"
	"slices"
)

// Heap is the ordered container behind a Scheduler.
// The item for which less reports priority over every other item is popped first.
//
// Popped slots are zeroed but stay physically allocated, and later inserts
// reuse them. Slack (allocated minus live slots) therefore grows after bursts
// and is reclaimed only by Compact.
//
// Thread-safe: No (the owning Scheduler serialises access)
type Heap[T any] struct {
	slots slots[T]
}

// NewHeap creates an empty heap ordered by less.
func NewHeap[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{slots: slots[T]{less: less}}
}

// Insert adds an item in O(log n).
func (h *Heap[T]) Insert(item T) {
	heap.Push(&h.slots, item)
}

// PopMin removes and returns the highest-priority live item.
// The boolean is false when no live item remains.
func (h *Heap[T]) PopMin() (T, bool) {
	if h.slots.size == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(&h.slots).(T), true
}

// Peek returns the highest-priority live item without removing it.
func (h *Heap[T]) Peek() (T, bool) {
	if h.slots.size == 0 {
		var zero T
		return zero, false
	}
	return h.slots.items[0], true
}

// Len returns the number of live items.
func (h *Heap[T]) Len() int { return h.slots.size }

// IsEmpty reports whether no live item remains.
func (h *Heap[T]) IsEmpty() bool { return h.slots.size == 0 }

// Slack returns the number of stale slots still allocated.
func (h *Heap[T]) Slack() int { return len(h.slots.items) - h.slots.size }

// Compact drops every stale slot so physical storage matches the live size.
// It runs in O(n) and never changes pop order.
func (h *Heap[T]) Compact() {
	live := make([]T, h.slots.size)
	copy(live, h.slots.items)
	h.slots.items = live
}

// CompactIfOver compacts when slack exceeds threshold and reports whether it did.
func (h *Heap[T]) CompactIfOver(threshold int) bool {
	if h.Slack() <= threshold {
		return false
	}
	h.Compact()
	return true
}

// Snapshot returns a copy of the live items in heap order (not sorted).
func (h *Heap[T]) Snapshot() []T {
	return slices.Clone(h.slots.items[:h.slots.size])
}

// slots implements heap.Interface over a slice whose tail past size holds
// zeroed, reusable slots.
type slots[T any] struct {
	items []T
	size  int
	less  func(a, b T) bool
}

func (s *slots[T]) Len() int { return s.size }

func (s *slots[T]) Less(i, j int) bool {
	return s.less(s.items[i], s.items[j])
}

func (s *slots[T]) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
}

func (s *slots[T]) Push(x interface{}) {
	if s.size < len(s.items) {
		s.items[s.size] = x.(T)
	} else {
		s.items = append(s.items, x.(T))
	}
	s.size++
}

func (s *slots[T]) Pop() interface{} {
	s.size--
	item := s.items[s.size]
	var zero T
	s.items[s.size] = zero // release the reference, keep the slot
	return item
}
