package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/jobflow/internal/dispatch"
	"github.com/mattjoyce/jobflow/internal/events"
)

const maxEventLog = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	run      RunState
	slots    map[int]*SlotState
	eventLog []events.Event
	lastID   int64
	finished bool

	spinner spinner.Model
	pulse   Pulse
	table   table.Model
	keys    KeyMap
	theme   Theme

	hubEvents chan events.Event
	now       func() time.Time

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	return &Model{
		apiURL:    strings.TrimRight(apiURL, "/"),
		slots:     make(map[int]*SlotState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		spinner:   spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		table:     newSlotTable(),
		keys:      DefaultKeyMap(),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchStatus(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spinner.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, func() tea.Msg { return fetchStatus(m.apiURL) }
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		now := m.now()
		m.pulse.Decay(now)
		m.table.SetRows(slotRows(m.slots, now))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		now := m.now()

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		m.pulse.OnEvent(now)
		updateSlots(m.slots, e, now)
		m.table.SetRows(slotRows(m.slots, now))

		m.run.Connected = true
		m.lastError = ""
		if e.Type == events.TypeRunFinished {
			m.finished = true
			m.run.Status.Finished = true
			// Pick up the final counters.
			return m, tea.Batch(
				receiveNextEvent(m.hubEvents),
				func() tea.Msg { return fetchStatus(m.apiURL) },
			)
		}
		return m, receiveNextEvent(m.hubEvents)

	case statusMsg:
		m.run.Status = dispatch.Status(msg)
		m.run.Connected = true
		m.run.LastCheck = m.now()
		m.lastError = ""
		if msg.Finished {
			m.finished = true
			return m, nil
		}
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})

	case streamEndedMsg:
		if msg.lastID > m.lastID {
			m.lastID = msg.lastID
		}
		if msg.finished || m.finished {
			m.finished = true
			return m, nil
		}
		m.run.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		if m.finished {
			// The controller exits after the run; keep the last view.
			return m, nil
		}
		m.run.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.apiURL + "..."
	}

	now := m.now()
	header := renderHeader(m.run, m.spinner, m.pulse, m.theme, m.width, now)
	slots := renderSlots(m.table, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, slots, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(m.keys.helpLine()))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the watch TUI against apiURL and blocks until the user quits.
func Run(apiURL string) error {
	p := tea.NewProgram(New(apiURL), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
