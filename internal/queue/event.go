package queue

// EventKind names a scheduler lifecycle event.
type EventKind string

const (
	KindQueued           EventKind = "queued"
	KindDirective        EventKind = "directive"
	KindDirectiveDropped EventKind = "directive_dropped"
	KindDrainStarted     EventKind = "drain_started"
	KindDispatched       EventKind = "dispatched"
	KindCancelled        EventKind = "cancelled"
	KindCompacted        EventKind = "compacted"
	KindEmptyPop         EventKind = "empty_pop"
	KindSettled          EventKind = "settled"
	KindSinkPanic        EventKind = "sink_panic"
)

// Event describes one state change of a Scheduler.
type Event struct {
	Kind      EventKind
	Scheduler string
	// Context is the formatted context id, empty when undefined or not relevant.
	Context   string
	Timestamp int64
	// Pending is the number of live items left in the heap after the change.
	Pending int
	// Item is the message involved, if any.
	Item any
}

// Observer receives scheduler events. Observe is called outside the
// scheduler lock, from whichever goroutine ran the ingress call or tick.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// Observers fans one event out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}
