package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rideralert/internal/models"
)

const actionTimeout = 15 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#EA580C")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	alarmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("196")).
			Padding(1, 4)

	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusIdle:            lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		models.StatusMonitoring:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		models.StatusAlarmActive:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		models.StatusConnectionError: lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
	}
)

// Controller is the subset of the monitor the terminal UI drives.
type Controller interface {
	GoOnline(ctx context.Context) (models.Snapshot, error)
	Silence() models.Snapshot
	Simulate(ctx context.Context) (models.Snapshot, error)
	RefreshView() models.Snapshot
	CheckNow(ctx context.Context) models.Snapshot
	Snapshot() models.Snapshot
	Subscribe() (<-chan models.Snapshot, func())
}

type snapshotMsg models.Snapshot

type actionMsg struct {
	snap models.Snapshot
	err  error
}

// Model renders the rider session and maps keys to monitor actions.
type Model struct {
	ctrl    Controller
	updates <-chan models.Snapshot
	cancel  func()
	snap    models.Snapshot
	notice  string
}

// NewModel subscribes to ctrl. The subscription ends when the program quits.
func NewModel(ctrl Controller) Model {
	updates, cancel := ctrl.Subscribe()
	return Model{
		ctrl:    ctrl,
		updates: updates,
		cancel:  cancel,
		snap:    ctrl.Snapshot(),
	}
}

// Run starts the program and blocks until the rider quits or ctx is done.
func Run(ctx context.Context, ctrl Controller, opts ...tea.ProgramOption) error {
	m := NewModel(ctrl)
	defer m.cancel()

	opts = append(opts, tea.WithContext(ctx))
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m Model) waitForUpdate() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case snapshotMsg:
		m.snap = models.Snapshot(msg)
		return m, m.waitForUpdate()
	case actionMsg:
		m.snap = msg.snap
		m.notice = ""
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "o":
		return m, m.action(func(ctx context.Context) (models.Snapshot, error) {
			return m.ctrl.GoOnline(ctx)
		})
	case "t":
		return m, m.action(func(ctx context.Context) (models.Snapshot, error) {
			return m.ctrl.Simulate(ctx)
		})
	case "c":
		return m, m.action(func(ctx context.Context) (models.Snapshot, error) {
			return m.ctrl.CheckNow(ctx), nil
		})
	case "s":
		m.snap = m.ctrl.Silence()
	case "r":
		m.snap = m.ctrl.RefreshView()
		m.notice = "view reload requested"
	}
	return m, nil
}

func (m Model) action(fn func(ctx context.Context) (models.Snapshot, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		snap, err := fn(ctx)
		return actionMsg{snap: snap, err: err}
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Irsa Kitchen · Rider Dispatch"))
	b.WriteString("\n\n")

	if !m.snap.Online {
		b.WriteString("You are offline. Press o to GO ONLINE and start receiving alerts.\n\n")
	}
	if m.snap.Status == models.StatusAlarmActive {
		b.WriteString(alarmStyle.Render("NEW ORDER! press s to silence"))
		b.WriteString("\n\n")
	}

	b.WriteString(boxStyle.Render(m.details()))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(errStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("o online • r refresh • c check • s silence • t test alarm • q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) details() string {
	style, ok := statusStyles[m.snap.Status]
	if !ok {
		style = statusStyles[models.StatusIdle]
	}

	lastID := m.snap.LastSeenID
	if lastID == "" {
		lastID = "Waiting..."
	}
	checked := "never"
	if m.snap.LastCheckedAt != nil {
		checked = m.snap.LastCheckedAt.Local().Format("15:04:05")
	}

	rows := []string{
		row("Status", style.Render(m.snap.Status.Label())),
		row("Order ID", lastID),
		row("Checked", checked),
		row("Polling", m.snap.PollInterval),
		row("Orders page", m.snap.ActiveOrdersPage),
	}
	if m.snap.Status == models.StatusConnectionError {
		rows = append(rows, row("Error", errStyle.Render(m.snap.LastError)))
	}
	return strings.Join(rows, "\n")
}

func row(label, value string) string {
	return fmt.Sprintf("%s%s", labelStyle.Render(label), value)
}
