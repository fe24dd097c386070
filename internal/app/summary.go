package app

import (
	"sync"
	"time"

	"github.com/billie-coop/jobq/internal/queue"
)

// Summary describes one run of the scheduler over an input stream.
type Summary struct {
	Source    string
	Scheduler string
	Host      string
	Started   time.Time
	Duration  time.Duration

	// Input
	Read      int
	Malformed int

	// Scheduler outcomes
	Queued            int
	Directives        int
	DroppedDirectives int
	Dispatched        int
	Cancelled         int
	Episodes          int
	Compactions       int
	SinkPanics        int

	// Contexts lists cancelled item counts per context.
	Contexts map[string]int

	Final queue.Stats
}

// tally counts scheduler events into a Summary.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func newTally() *tally {
	return &tally{s: Summary{Contexts: make(map[string]int)}}
}

// Observe implements queue.Observer.
func (t *tally) Observe(ev queue.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case queue.KindQueued:
		t.s.Queued++
	case queue.KindDirective:
		t.s.Directives++
	case queue.KindDirectiveDropped:
		t.s.DroppedDirectives++
	case queue.KindDrainStarted:
		t.s.Episodes++
	case queue.KindDispatched:
		t.s.Dispatched++
	case queue.KindCancelled:
		t.s.Cancelled++
		t.s.Contexts[ev.Context]++
	case queue.KindCompacted:
		t.s.Compactions++
	case queue.KindSinkPanic:
		t.s.SinkPanics++
	}
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.s
	s.Contexts = make(map[string]int, len(t.s.Contexts))
	for k, v := range t.s.Contexts {
		s.Contexts[k] = v
	}
	return s
}
