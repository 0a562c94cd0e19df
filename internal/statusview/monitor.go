// Package statusview is a terminal viewer for one dispatchd node: it polls
// GET /status for node role and queue depth and tails GET /events for
// quarantine hits and role transitions, rendering both with bubbletea.
package statusview

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	roleMastering     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	roleSlaving       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	roleStanddown     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	roleSynchronizing = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// statusPayload mirrors dispatch.Core.StatusPayload. Duplicated rather than
// imported so the viewer only ever depends on the wire shape, the same
// contract any other client of GET /status would see.
type statusPayload struct {
	State           string   `json:"state"`
	QueueSize       int      `json:"queue_size"`
	InFlight        int64    `json:"in_flight"`
	MethodLines     []string `json:"method_lines"`
	PeekBlacklist   int      `json:"peek_blacklist_count"`
	ProcessBlacklst int      `json:"process_blacklist_count"`
}

// event mirrors events.Event.
type event struct {
	ID   int64           `json:"id"`
	Kind string          `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type statusMsg statusPayload
type eventMsg event
type errMsg error

// Model is the bubbletea model for the status viewer.
type Model struct {
	apiURL string

	width  int
	height int

	mu        sync.Mutex
	status    statusPayload
	eventLog  []event
	hubEvents chan event

	methodTable table.Model
}

// NewMonitor builds a Model polling apiURL.
func NewMonitor(apiURL string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Method Line", Width: 40},
		}),
		table.WithFocused(false),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:      strings.TrimSuffix(apiURL, "/"),
		hubEvents:   make(chan event, 100),
		methodTable: t,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.pollStatus(),
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.methodTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(event(msg))
		return m, m.receiveNextEvent()

	case statusMsg:
		m.mu.Lock()
		m.status = statusPayload(msg)
		m.mu.Unlock()
		m.updateTable()
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
			return m.fetchStatus()
		})

	case errMsg:
		// Surfaced through the event log rather than crashing the viewer.
		m.handleEvent(event{Kind: "viewer.error", At: time.Now(), Data: json.RawMessage(fmt.Sprintf("%q", msg.Error()))})
	}

	m.methodTable, cmd = m.methodTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventLog = append([]event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.status.MethodLines))
	for _, ml := range m.status.MethodLines {
		rows = append(rows, table.Row{ml})
	}
	m.methodTable.SetRows(rows)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	header := m.renderHeader()
	queueView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Queued Method Lines"),
			m.methodTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			queueView,
			eventsView,
			help,
		),
	)
}

func (m *Model) renderHeader() string {
	m.mu.Lock()
	st := m.status
	m.mu.Unlock()

	role := roleStanddown.Render(st.State)
	switch st.State {
	case "MASTERING":
		role = roleMastering.Render(st.State)
	case "SLAVING":
		role = roleSlaving.Render(st.State)
	case "SYNCHRONIZING":
		role = roleSynchronizing.Render(st.State)
	}

	items := []string{
		fmt.Sprintf("Role: %s", role),
		fmt.Sprintf("Queue: %d", st.QueueSize),
		fmt.Sprintf("In-flight: %d", st.InFlight),
		fmt.Sprintf("Quarantine: %d peek / %d process", st.PeekBlacklist, st.ProcessBlacklst),
	}

	cellWidth := (m.width - 4) / len(items)
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = lipgloss.NewStyle().Width(cellWidth).Render(it)
	}

	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m *Model) renderEvents() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-12s | %s", ts, e.Kind, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (m *Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		resp, err := http.Get(m.apiURL + "/events")
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				var ev event
				if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err == nil {
					m.hubEvents <- ev
				}
			}
		}
		return nil
	}
}

func (m *Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m *Model) pollStatus() tea.Cmd {
	return func() tea.Msg {
		return m.fetchStatus()
	}
}

func (m *Model) fetchStatus() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(m.apiURL + "/status")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var st statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return errMsg(err)
	}
	return statusMsg(st)
}
