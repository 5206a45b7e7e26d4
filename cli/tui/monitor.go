package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/armlink/types"
)

// Link status strings.
const (
	LinkWaiting   = "waiting"
	LinkConnected = "connected"
	LinkLost      = "lost"
)

// StateMsg carries one published joint state into the monitor.
type StateMsg struct {
	State *types.JointState
}

// LinkMsg reports the state channel status. A nil Err means connected.
type LinkMsg struct {
	Err error
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Monitor is a Bubble Tea model showing the latest joint state.
type Monitor struct {
	robotID  string
	table    table.Model
	last     *types.JointState
	received int64
	link     string
	linkErr  error
	width    int
	height   int
	quitting bool
}

// NewMonitor creates a monitor for the given joint names. Rows are
// replaced by the names in each state once states arrive.
func NewMonitor(robotID string, names []string) Monitor {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Joint", Width: 14},
			{Title: "Position", Width: 12},
			{Title: "Velocity", Width: 12},
			{Title: "Accel", Width: 12},
		}),
		table.WithHeight(len(names)+2),
	)
	m := Monitor{robotID: robotID, table: t, link: LinkWaiting}
	m.table.SetRows(emptyRows(names))
	return m
}

// Init implements tea.Model.
func (m Monitor) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case StateMsg:
		if msg.State == nil {
			return m, nil
		}
		m.last = msg.State
		m.received++
		m.link = LinkConnected
		m.linkErr = nil
		rows := stateRows(msg.State)
		if len(rows)+2 > m.table.Height() {
			m.table.SetHeight(len(rows) + 2)
		}
		m.table.SetRows(rows)
		return m, nil

	case LinkMsg:
		m.linkErr = msg.Err
		if msg.Err != nil {
			m.link = LinkLost
		} else {
			m.link = LinkConnected
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Monitor) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("armlink joint monitor"))
	b.WriteString("\n")
	b.WriteString(m.field("Robot", m.robotID))
	b.WriteString(m.field("Link", LinkStyle(m.link).Render(m.link)))
	if m.linkErr != nil {
		b.WriteString(m.field("Error", ErrorStyle.Render(m.linkErr.Error())))
	}
	b.WriteString(m.field("States", strconv.FormatInt(m.received, 10)))
	if m.last != nil {
		b.WriteString(m.field("Seq", strconv.FormatInt(m.last.Seq, 10)))
		b.WriteString(m.field("Source", m.last.Source))
		b.WriteString(m.field("Received", m.last.ReceivedAt.Format(time.TimeOnly)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, b.String(), BoxStyle.Render(m.table.View()))
	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m Monitor) field(label, value string) string {
	return fmt.Sprintf("%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

func emptyRows(names []string) []table.Row {
	rows := make([]table.Row, len(names))
	for i, n := range names {
		rows[i] = table.Row{n, "-", "-", "-"}
	}
	return rows
}

func stateRows(s *types.JointState) []table.Row {
	rows := make([]table.Row, len(s.Positions))
	for i := range s.Positions {
		name := strconv.Itoa(i)
		if i < len(s.Names) {
			name = s.Names[i]
		}
		rows[i] = table.Row{name, formatJoint(s.Positions, i), formatJoint(s.Velocities, i), formatJoint(s.Accelerations, i)}
	}
	return rows
}

func formatJoint(values []float64, i int) string {
	if i >= len(values) {
		return "-"
	}
	return strconv.FormatFloat(values[i], 'f', 4, 64)
}
