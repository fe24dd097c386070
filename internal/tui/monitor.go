package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/spinner"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"github.com/billie-coop/jobq/internal/app"
	"github.com/billie-coop/jobq/internal/events"
	"github.com/billie-coop/jobq/internal/message"
	"github.com/billie-coop/jobq/internal/queue"
)

const recentEvents = 10

// Style definitions for the monitor.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle     = lipgloss.NewStyle().Bold(true)
	dispatchStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cancelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	directiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

// feedMsg submits the next input message.
type feedMsg struct{}

// Monitor is the Bubble Tea model behind `jobq monitor`. It feeds messages
// into the app's scheduler at a fixed interval and shows live counts, the
// latest scheduler events and a spinner while a drain episode is running.
//
// The scheduler must be built with WithYield(host.Yield) so every drain tick
// runs inside Update.
type Monitor struct {
	width  int
	height int

	app      *app.App
	host     *Host
	input    []message.Message
	next     int
	interval time.Duration
	paused   bool

	// Event system
	eventSub <-chan events.Event

	spinner spinner.Model
	recent  []string
}

// NewMonitor creates a monitor for a and the messages to feed it.
func NewMonitor(a *app.App, host *Host, input []message.Message, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Monitor{
		app:      a,
		host:     host,
		input:    input,
		interval: interval,
		eventSub: a.EventBroker.Subscribe(
			events.DirectiveEvent,
			events.DirectiveDroppedEvent,
			events.DispatchedEvent,
			events.CancelledEvent,
			events.CompactedEvent,
			events.SinkPanicEvent,
		),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// Init starts the spinner, the event listener and the feed.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvents(), m.scheduleFeed())
}

// Update handles ticks, feed steps, events and keys.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TickMsg:
		msg()
		return m, nil

	case feedMsg:
		if m.paused || m.next >= len(m.input) {
			return m, nil
		}
		m.app.Scheduler.Submit(m.input[m.next])
		m.next++
		return m, m.scheduleFeed()

	case events.Event:
		m.record(msg)
		return m, m.listenForEvents()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m, m.handleKey(msg.String())
	}

	return m, nil
}

func (m *Monitor) handleKey(key string) tea.Cmd {
	switch key {
	case "ctrl+c", "q":
		return tea.Quit
	case "space", " ", "p":
		m.paused = !m.paused
		if !m.paused {
			return m.scheduleFeed()
		}
	}
	return nil
}

// View renders the monitor
func (m *Monitor) View() tea.View {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("jobq monitor · %s", m.app.Config.Name)))
	sb.WriteString("\n")

	summary := m.app.Summary()
	stats := summary.Final

	state := "idle"
	if stats.Draining {
		state = m.spinner.View() + " draining"
	}
	if m.paused {
		state += " (feed paused)"
	}

	rows := [][2]string{
		{"fed", fmt.Sprintf("%d/%d", m.next, len(m.input))},
		{"state", state},
		{"pending", fmt.Sprint(stats.Pending)},
		{"dispatched", fmt.Sprint(summary.Dispatched)},
		{"cancelled", fmt.Sprint(summary.Cancelled)},
		{"directives", fmt.Sprintf("%d (+%d dropped)", summary.Directives, summary.DroppedDirectives)},
		{"watermarks", fmt.Sprint(stats.Watermarks)},
		{"slack", fmt.Sprintf("%d (compacted %d×)", stats.Slack, summary.Compactions)},
	}
	for _, row := range rows {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%-11s", row[0])))
		sb.WriteString(valueStyle.Render(row[1]))
		sb.WriteString("\n")
	}

	if len(m.recent) > 0 {
		sb.WriteString("\n")
		sb.WriteString(labelStyle.Render("recent"))
		sb.WriteString("\n")
		for _, line := range m.recent {
			sb.WriteString("  " + line + "\n")
		}
	}

	sb.WriteString(helpStyle.Render("space: pause feed · q: quit"))

	return tea.NewView(sb.String())
}

// Done reports whether every message has been fed and the scheduler is idle.
func (m *Monitor) Done() bool {
	return m.next >= len(m.input) && !m.app.Scheduler.Draining()
}

func (m *Monitor) scheduleFeed() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return feedMsg{}
	})
}

func (m *Monitor) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.eventSub
		if !ok {
			return nil
		}
		return event
	}
}

// record keeps a short log of the latest scheduler events.
func (m *Monitor) record(event events.Event) {
	ev, ok := event.Payload.(queue.Event)
	if !ok {
		return
	}

	var line string
	switch ev.Kind {
	case queue.KindDispatched:
		line = dispatchStyle.Render(fmt.Sprintf("dispatch %s ctx=%s ts=%d", itemID(ev), ev.Context, ev.Timestamp))
	case queue.KindCancelled:
		line = cancelStyle.Render(fmt.Sprintf("cancel   %s ctx=%s ts=%d", itemID(ev), ev.Context, ev.Timestamp))
	case queue.KindDirective:
		line = directiveStyle.Render(fmt.Sprintf("watermark ctx=%s ts=%d", ev.Context, ev.Timestamp))
	case queue.KindDirectiveDropped:
		line = directiveStyle.Render(fmt.Sprintf("dropped directive ts=%d", ev.Timestamp))
	case queue.KindCompacted:
		line = labelStyle.Render("heap compacted")
	case queue.KindSinkPanic:
		line = cancelStyle.Render(fmt.Sprintf("sink panic at ts=%d", ev.Timestamp))
	default:
		return
	}

	m.recent = append(m.recent, line)
	if len(m.recent) > recentEvents {
		m.recent = m.recent[len(m.recent)-recentEvents:]
	}
}

func itemID(ev queue.Event) string {
	if msg, ok := ev.Item.(message.Message); ok && msg.ID != "" {
		return msg.ID
	}
	return "-"
}
