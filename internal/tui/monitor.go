package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/keybridge/internal/events"
)

const (
	maxCalls = 200
	maxLines = 1000
)

// Call statuses shown in the table.
const (
	callRunning   = "running"
	callCompleted = "completed"
	callFailed    = "failed"
)

// CallRow is one call tracked from call.* events.
type CallRow struct {
	ID       string
	API      string
	Method   string
	Status   string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type eventMsg events.Event

type streamClosedMsg struct{}

// Model is the BubbleTea model for the call and listen monitor.
type Model struct {
	title string
	src   <-chan events.Event
	theme Theme

	width  int
	height int

	calls []*CallRow // newest first
	byID  map[string]*CallRow
	lines []string

	started   int
	completed int
	failed    int

	table    table.Model
	viewport viewport.Model
	follow   bool
	closed   bool
}

// NewMonitor creates a monitor that renders events read from src until it closes.
func NewMonitor(title string, src <-chan events.Event) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "API", Width: 10},
			{Title: "Method", Width: 24},
			{Title: "Duration", Width: 10},
			{Title: "Error", Width: 40},
		}),
		table.WithHeight(8),
	)
	theme := NewDefaultTheme()
	t.SetStyles(theme.TableStyles())

	return Model{
		title:    title,
		src:      src,
		theme:    theme,
		byID:     make(map[string]*CallRow),
		table:    t,
		viewport: viewport.New(0, 0),
		follow:   true,
	}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.src)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.follow = !m.follow
			if m.follow {
				m.viewport.GotoBottom()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(m.width-6, 0))
		m.viewport.Width = max(m.width-6, 0)
		m.viewport.Height = max(m.height-m.table.Height()-12, 3)
		m.refreshViewport()
		return m, nil

	case eventMsg:
		m.apply(events.Event(msg))
		return m, waitForEvent(m.src)

	case streamClosedMsg:
		m.closed = true
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) apply(e events.Event) {
	switch e.Type {
	case events.CallStarted, events.CallCompleted, events.CallFailed:
		var data events.CallData
		if err := json.Unmarshal(e.Data, &data); err != nil || data.CallID == "" {
			return
		}
		m.applyCall(e, data)
		m.refreshTable()

	case events.ListenLine:
		var data events.LineData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		m.lines = append(m.lines, data.Line)
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}
		m.refreshViewport()
	}
}

func (m *Model) applyCall(e events.Event, data events.CallData) {
	row, ok := m.byID[data.CallID]
	if !ok {
		row = &CallRow{ID: data.CallID, API: data.API, Method: data.Method, Status: callRunning, Started: e.At}
		m.byID[data.CallID] = row
		m.calls = append([]*CallRow{row}, m.calls...)
		if len(m.calls) > maxCalls {
			for _, old := range m.calls[maxCalls:] {
				delete(m.byID, old.ID)
			}
			m.calls = m.calls[:maxCalls]
		}
	}

	switch e.Type {
	case events.CallStarted:
		m.started++
	case events.CallCompleted:
		m.completed++
		row.Status = callCompleted
		row.Duration = time.Duration(data.DurationMS) * time.Millisecond
	case events.CallFailed:
		m.failed++
		row.Status = callFailed
		row.Duration = time.Duration(data.DurationMS) * time.Millisecond
		row.Error = firstLine(data.Error)
		if row.Error == "" {
			row.Error = data.Kind
		}
	}
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, len(m.calls))
	for _, c := range m.calls {
		rows = append(rows, table.Row{m.theme.CallStatus(c.Status), c.API, c.Method, formatDuration(c), c.Error})
	}
	m.table.SetRows(rows)
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func formatDuration(c *CallRow) string {
	if c.Status == callRunning {
		return "-"
	}
	return c.Duration.Round(time.Millisecond).String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}
	inner := max(m.width-4, 0)

	calls := m.theme.Panel.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Calls"),
			m.table.View(),
		),
	)
	stream := m.theme.Panel.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Listen"),
			m.renderLines(),
		),
	)

	follow := "off"
	if m.follow {
		follow = "on"
	}
	help := m.theme.Muted.Render(fmt.Sprintf(" [q] Quit • [f] Follow (%s) • [↑/↓] Scroll", follow))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(inner), calls, stream, help),
	)
}

func (m Model) renderHeader(width int) string {
	state := m.theme.OK.Render("LIVE")
	if m.closed {
		state = m.theme.Muted.Render("ENDED")
	}
	items := []string{
		m.theme.Header.Render(m.title),
		fmt.Sprintf("Stream: %s", state),
		fmt.Sprintf("Calls: %d ok / %s", m.completed, m.theme.Failed.Render(fmt.Sprintf("%d failed", m.failed))),
		fmt.Sprintf("Lines: %s", m.theme.Count.Render(fmt.Sprint(len(m.lines)))),
	}

	cells := make([]string, len(items))
	for i, item := range items {
		cells[i] = lipgloss.NewStyle().Width(width / len(items)).Render(item)
	}
	return m.theme.Panel.Width(width).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderLines() string {
	if len(m.lines) == 0 {
		return m.theme.Muted.Render("  No lines yet...")
	}
	return m.viewport.View()
}

// --- Commands ---

// waitForEvent reads the next event, reporting streamClosedMsg once src closes.
func waitForEvent(src <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-src
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}
