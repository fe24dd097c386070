package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea/v2"
)

// TickMsg carries a scheduled drain tick into the Bubble Tea event loop.
// The monitor's Update runs it.
type TickMsg func()

// Host is a queue.Yield that runs scheduler ticks as Bubble Tea messages, so
// the whole drain loop shares the program's single event goroutine.
//
// Used by: Monitor
// Thread-safe: yes
type Host struct {
	mu      sync.Mutex
	send    func(tea.Msg)
	pending []TickMsg
}

// NewHost creates a host that is not yet attached to a program. Ticks yielded
// before Attach are held and delivered on Attach.
func NewHost() *Host {
	return &Host{}
}

// Attach routes ticks to p.
func (h *Host) Attach(p *tea.Program) {
	h.attach(p.Send)
}

func (h *Host) attach(send func(tea.Msg)) {
	h.mu.Lock()
	h.send = send
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, tick := range pending {
		go send(tick)
	}
}

// Yield schedules fn as a TickMsg. Program.Send blocks until the event loop
// receives the message and Yield is normally called from inside Update, so
// the send happens on its own goroutine.
func (h *Host) Yield(fn func()) {
	h.mu.Lock()
	send := h.send
	if send == nil {
		h.pending = append(h.pending, TickMsg(fn))
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	go send(TickMsg(fn))
}
