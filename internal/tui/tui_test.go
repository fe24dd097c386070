package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billie-coop/jobq/internal/app"
	"github.com/billie-coop/jobq/internal/config"
	"github.com/billie-coop/jobq/internal/message"
	"github.com/billie-coop/jobq/internal/queue"
)

func TestHost_HoldsTicksUntilAttached(t *testing.T) {
	h := NewHost()
	ran := 0
	h.Yield(func() { ran++ })
	h.Yield(func() { ran++ })

	msgs := make(chan tea.Msg, 4)
	h.attach(func(msg tea.Msg) { msgs <- msg })

	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			tick, ok := msg.(TickMsg)
			require.True(t, ok)
			tick()
		case <-time.After(time.Second):
			t.Fatal("held tick was not delivered")
		}
	}
	assert.Equal(t, 2, ran)
}

// runMonitor drives a monitor the way a tea.Program would: every message the
// host sends goes back through Update on this goroutine.
func runMonitor(t *testing.T, input []message.Message) *Monitor {
	t.Helper()
	host := NewHost()
	msgs := make(chan tea.Msg, 64)
	host.attach(func(msg tea.Msg) { msgs <- msg })

	cfg := config.DefaultConfig()
	a, err := app.New(cfg, app.WithYield(host.Yield))
	require.NoError(t, err)

	m := NewMonitor(a, host, input, time.Millisecond)
	for i := 0; i < len(input); i++ {
		m.Update(feedMsg{})
	}

	deadline := time.After(5 * time.Second)
	for !m.Done() {
		select {
		case msg := <-msgs:
			m.Update(msg)
		case <-deadline:
			t.Fatal("monitor never settled")
		}
	}
	return m
}

func TestMonitor_DrainsOnProgramLoop(t *testing.T) {
	input := []message.Message{
		{ID: "w1", Context: "b", TS: 1},
		{ID: "w2", Context: "b", TS: 2},
		{ID: "w3", Context: "c", TS: 3},
		{Context: "b", TS: 3, Type: "cancel"},
		{ID: "w4", Context: "b", TS: 4},
	}
	m := runMonitor(t, input)

	summary := m.app.Summary()
	assert.Equal(t, 3, summary.Dispatched)
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 1, summary.Contexts["b"])

	// Feed the published events in so the recent list is populated.
	for len(m.eventSub) > 0 {
		m.Update(<-m.eventSub)
	}
	view := m.View()
	assert.NotNil(t, view)
	require.NotEmpty(t, m.recent)
	assert.Contains(t, strings.Join(m.recent, "\n"), "cancel   w2 ctx=b ts=2")
}

func TestMonitor_PauseAndQuit(t *testing.T) {
	a, err := app.New(config.DefaultConfig(), app.WithYield(queue.Immediate))
	require.NoError(t, err)
	m := NewMonitor(a, NewHost(), []message.Message{{ID: "x", TS: 1}}, 0)

	assert.Nil(t, m.handleKey("space"))
	assert.True(t, m.paused)
	m.Update(feedMsg{})
	assert.Equal(t, 0, m.next, "paused monitor does not feed")

	assert.NotNil(t, m.handleKey("p"), "resuming schedules the next feed")
	assert.False(t, m.paused)

	cmd := m.handleKey("q")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestReportMarkdown(t *testing.T) {
	s := app.Summary{
		Source:     "jobs.jsonl",
		Scheduler:  "jobq",
		Host:       "loop",
		Read:       12,
		Malformed:  1,
		Dispatched: 8,
		Cancelled:  3,
		Contexts:   map[string]int{"b": 2, "a": 1},
	}

	md := ReportMarkdown(s)
	assert.Contains(t, md, "# jobq run: jobs.jsonl")
	assert.Contains(t, md, "| dispatched | 8 |")
	assert.Contains(t, md, "| malformed lines | 1 |")
	assert.Less(t, strings.Index(md, "`b`: 2"), strings.Index(md, "`a`: 1"), "busiest context first")
	assert.NotContains(t, md, "still pending")

	out, err := RenderReport(s, 60)
	require.NoError(t, err)
	assert.Contains(t, out, "jobs.jsonl")
}
