// Package events is the pub/sub bridge between a scheduler and anything that
// watches it (the monitor UI, the run report).
package events

import (
	"github.com/billie-coop/jobq/internal/queue"
)

// EventType identifies the type of event
type EventType string

// Wildcard subscribes to every event type.
const Wildcard EventType = "*"

const (
	// Scheduler events, one per queue.EventKind
	QueuedEvent           EventType = "queue.queued"
	DirectiveEvent        EventType = "queue.directive"
	DirectiveDroppedEvent EventType = "queue.directive_dropped"
	DrainStartedEvent     EventType = "queue.drain_started"
	DispatchedEvent       EventType = "queue.dispatched"
	CancelledEvent        EventType = "queue.cancelled"
	CompactedEvent        EventType = "queue.compacted"
	EmptyPopEvent         EventType = "queue.empty_pop"
	SettledEvent          EventType = "queue.settled"
	SinkPanicEvent        EventType = "queue.sink_panic"

	// Run events
	RunStartedEvent  EventType = "run.started"
	RunFinishedEvent EventType = "run.finished"
	InputErrorEvent  EventType = "run.input_error"
)

var kindTypes = map[queue.EventKind]EventType{
	queue.KindQueued:           QueuedEvent,
	queue.KindDirective:        DirectiveEvent,
	queue.KindDirectiveDropped: DirectiveDroppedEvent,
	queue.KindDrainStarted:     DrainStartedEvent,
	queue.KindDispatched:       DispatchedEvent,
	queue.KindCancelled:        CancelledEvent,
	queue.KindCompacted:        CompactedEvent,
	queue.KindEmptyPop:         EmptyPopEvent,
	queue.KindSettled:          SettledEvent,
	queue.KindSinkPanic:        SinkPanicEvent,
}

// TypeOf maps a scheduler event kind to its broker type.
func TypeOf(kind queue.EventKind) EventType {
	if t, ok := kindTypes[kind]; ok {
		return t
	}
	return EventType("queue." + string(kind))
}

// Event represents an event in the system
type Event struct {
	Type    EventType
	Payload interface{}
}

// Event payload types

// RunPayload accompanies RunStartedEvent and RunFinishedEvent.
type RunPayload struct {
	Source    string
	Submitted int
	Err       error
}

// InputErrorPayload reports a line of input that could not be decoded.
type InputErrorPayload struct {
	Line int
	Err  error
}

// Observe publishes a scheduler event with the queue.Event as payload.
// It makes *Broker a queue.Observer.
func (b *Broker) Observe(ev queue.Event) {
	b.Publish(Event{Type: TypeOf(ev.Kind), Payload: ev})
}

var _ queue.Observer = (*Broker)(nil)
