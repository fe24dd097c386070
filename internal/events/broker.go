package events

import (
	"sync"
)

// DefaultBufferSize is the channel capacity of each subscription.
const DefaultBufferSize = 64

// Broker distributes scheduler events to subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the broker counts it as dropped. Scheduler ticks therefore never wait
// on a slow consumer such as the monitor UI.
//
// Used by: app.Run, tui monitor
// Thread-safe: yes
type Broker struct {
	subscribers map[EventType][]chan Event
	mu          sync.RWMutex
	bufferSize  int

	dropped struct {
		sync.Mutex
		n int
	}
}

// NewBroker creates a broker whose subscriptions buffer bufferSize events.
// A bufferSize below 1 selects DefaultBufferSize.
func NewBroker(bufferSize int) *Broker {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to specific event types.
// With no types it subscribes to everything.
func (b *Broker) Subscribe(eventTypes ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)

	if len(eventTypes) == 0 {
		eventTypes = []EventType{Wildcard}
	}

	for _, eventType := range eventTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	}

	return ch
}

// Unsubscribe removes a subscription from the given types, or from every type
// when none are given. The channel is closed once it has no types left.
func (b *Broker) Unsubscribe(ch <-chan Event, eventTypes ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(eventTypes) == 0 {
		for eventType := range b.subscribers {
			eventTypes = append(eventTypes, eventType)
		}
	}

	var owned chan Event
	for _, eventType := range eventTypes {
		if c := b.removeChannel(eventType, ch); c != nil {
			owned = c
		}
	}

	if owned != nil && !b.subscribedLocked(owned) {
		close(owned)
	}
}

// Publish sends an event to subscribers of its type and to wildcard
// subscribers.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.send(b.subscribers[event.Type], event)
	if event.Type != Wildcard {
		b.send(b.subscribers[Wildcard], event)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Broker) Dropped() int {
	b.dropped.Lock()
	defer b.dropped.Unlock()
	return b.dropped.n
}

// Clear removes and closes all subscriptions.
func (b *Broker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make(map[chan Event]bool)
	for _, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			if !closed[ch] {
				close(ch)
				closed[ch] = true
			}
		}
	}

	b.subscribers = make(map[EventType][]chan Event)
}

func (b *Broker) send(subscribers []chan Event, event Event) {
	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Lock()
			b.dropped.n++
			b.dropped.Unlock()
		}
	}
}

// removeChannel must be called with mu held. It returns the removed channel.
func (b *Broker) removeChannel(eventType EventType, target <-chan Event) chan Event {
	var removed chan Event
	subscribers := b.subscribers[eventType]
	for i, ch := range subscribers {
		if ch == target {
			removed = ch
			b.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}

	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
	return removed
}

func (b *Broker) subscribedLocked(target chan Event) bool {
	for _, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			if ch == target {
				return true
			}
		}
	}
	return false
}
