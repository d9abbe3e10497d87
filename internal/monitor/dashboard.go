// Package monitor renders a live terminal dashboard of an agentflowd
// instance: execution capacity, the pending queue and memory usage.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	titleWidth      = 40
)

// Model is the bubbletea dashboard model.
type Model struct {
	source     Source
	target     string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	capacityProgress progress.Model
	memoryProgress   progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling src every interval. target names
// the daemon in the header and error view.
func NewModel(src Source, target string, interval time.Duration) Model {
	return Model{
		source:   src,
		target:   target,
		interval: interval,
		capacityProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
		memoryProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		snapshot: Snapshot{
			RunningHistory: make([]float64, 0, historySize),
			MemoryHistory:  make([]float64, 0, historySize),
		},
	}
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, src Source, target string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(src, target, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// getStatusBadge returns the overall daemon status badge.
func getStatusBadge(status string) string {
	switch status {
	case "healthy":
		return healthyStyle.Render("✓ HEALTHY")
	case "busy":
		return warningStyle.Render("⚠ BUSY")
	case "shutting_down":
		return errorStyle.Render("✗ SHUTTING DOWN")
	default:
		return warningStyle.Render("? " + strings.ToUpper(status))
	}
}

// getCapacityBadge colors the running/max ratio.
func getCapacityBadge(ratio float64) string {
	if ratio < 0.7 {
		return healthyStyle.Render("[✓]")
	} else if ratio < 1 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

func ratio(n, max int) float64 {
	if max <= 0 {
		return 0
	}
	r := float64(n) / float64(max)
	if r > 1 {
		r = 1
	}
	return r
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetch(m.source),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(src Source) tea.Cmd {
	return func() tea.Msg {
		snap, err := fetchSnapshot(context.Background(), src)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.source)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetch(m.source),
		)

	case snapshotMsg:
		next := Snapshot(msg)
		next.RunningHistory = appendToHistory(m.snapshot.RunningHistory, float64(next.Running))
		active := 0.0
		if next.Memory != nil {
			active = float64(next.Memory.Active)
		}
		next.MemoryHistory = appendToHistory(m.snapshot.MemoryHistory, active)

		m.snapshot = next
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("agentflow Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach agentflowd") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.target) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the daemon with: agentflowd") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	s := m.snapshot
	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	header := headerStyle.Render(" agentflow Monitor ")
	status := s.Status
	if status == "" {
		status = "waiting"
	}
	b.WriteString(header + "\n")
	b.WriteString(fmt.Sprintf("%s   %s   %s   %s   %s\n",
		getStatusBadge(status),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatUptime(s.UptimeSeconds)),
		dimStyle.Render(s.Version),
		dimStyle.Render(lastUpdateStr)))

	// Execution capacity
	b.WriteString("\n" + sectionStyle.Render("┃ Executions") + "\n")
	capRatio := ratio(s.Running, s.MaxConcurrent)
	b.WriteString(labelStyle.Render("  Running: ") +
		valueStyle.Render(FormatSlots(s.Running, s.MaxConcurrent)) +
		" " + getCapacityBadge(capRatio) +
		"   " + createSparkline(s.RunningHistory) + "\n")
	b.WriteString(labelStyle.Render("  Capacity: ") +
		m.capacityProgress.ViewAs(capRatio) +
		" " + dimStyle.Render(FormatPercentage(capRatio)) + "\n")
	b.WriteString(labelStyle.Render("  Tasks: ") + valueStyle.Render(FormatIDs(s.RunningIDs)) + "\n")

	// Pending queue
	b.WriteString("\n" + sectionStyle.Render("┃ Queue") + "\n")
	if len(s.Queue) == 0 {
		b.WriteString(dimStyle.Render("  no pending tasks") + "\n")
	}
	for _, t := range s.Queue {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			valueStyle.Render(fmt.Sprintf("#%-4d", t.ID)),
			priorityStyle(t.Priority).Render(fmt.Sprintf("%-6s", t.Priority)),
			Truncate(t.Title, titleWidth)))
	}

	// Shared memory
	b.WriteString("\n" + sectionStyle.Render("┃ Memory") + "\n")
	if s.Memory != nil {
		b.WriteString(labelStyle.Render("  Active: ") +
			valueStyle.Render(fmt.Sprintf("%d", s.Memory.Active)) +
			dimStyle.Render(fmt.Sprintf(" (%d expired)", s.Memory.Expired)) +
			"   " + createSparkline(s.MemoryHistory) + "\n")
		b.WriteString(labelStyle.Render("  Fresh: ") +
			m.memoryProgress.ViewAs(ratio(s.Memory.Active, s.Memory.Total)) + "\n")
		b.WriteString(labelStyle.Render("  By category: ") + dimStyle.Render(formatCategories(s.Memory.ByCategory)) + "\n")
	} else {
		b.WriteString(dimStyle.Render("  unavailable") + "\n")
	}

	// Sandbox
	if s.Sandbox != nil {
		b.WriteString("\n" + sectionStyle.Render("┃ Sandbox") + "\n")
		mode := "permissive"
		if s.Sandbox.StrictMode {
			mode = "strict"
		}
		b.WriteString(labelStyle.Render("  Mode: ") + valueStyle.Render(mode) +
			labelStyle.Render("  Allowed dirs: ") + valueStyle.Render(fmt.Sprintf("%d", s.Sandbox.AllowedDirs)) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func priorityStyle(p orchestrator.TaskPriority) lipgloss.Style {
	switch p {
	case orchestrator.PriorityHigh:
		return errorStyle
	case orchestrator.PriorityMedium:
		return warningStyle
	default:
		return dimStyle
	}
}

func formatCategories[K ~string](counts map[K]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[K(k)])
	}
	return strings.Join(parts, " ")
}
