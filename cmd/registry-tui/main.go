// registry-tui is a terminal dashboard for operators: live agent status,
// quarantine state, and running statistics without a browser.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nexora-systems/registry-central/pkg/client"
)

// Config
const (
	pollRate       = 2 * time.Second
	viewportHeight = 20
	fetchTimeout   = 1500 * time.Millisecond
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	idStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Width(28)
	activeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Width(12)
	quarantineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Width(12)
	bannedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Width(12)
	statStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

type dataMsg struct {
	agents []client.AgentSummary
	leader client.Leader
	err    error
}

type model struct {
	api      *client.Client
	spinner  spinner.Model
	viewport viewport.Model
	agents   []client.AgentSummary
	leader   client.Leader
	err      error
	ready    bool
}

func initialModel(api *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:     api,
		spinner: s,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.api),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.api), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.agents = msg.agents
			m.leader = msg.leader
			m.updateViewportContent()
		}
		if !m.ready {
			m.ready = true
		}

	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = viewportHeight
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder

	agents := make([]client.AgentSummary, len(m.agents))
	copy(agents, m.agents)
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	for _, a := range agents {
		var status string
		switch a.Status {
		case "active":
			status = activeStyle.Render(a.Status)
		case "quarantine":
			status = quarantineStyle.Render(a.Status)
		default:
			status = bannedStyle.Render(a.Status)
		}

		stats := statStyle.Render(fmt.Sprintf("calls=%d success=%.0f%% rating=%.2f latency=%.0fms",
			a.CallsTotal, a.SuccessRate*100, a.AvgRating, a.AvgLatencyMs))

		line := fmt.Sprintf("%s %s %s", idStyle.Render(a.ID), status, stats)
		if a.QuarantineReason != "" {
			line += " " + quarantineStyle.Render(a.QuarantineReason)
		}
		sb.WriteString(line + "\n")
	}

	m.viewport.SetContent(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Initializing...", m.spinner.View())
	}

	var counts struct{ active, quarantined, banned int }
	for _, a := range m.agents {
		switch a.Status {
		case "active":
			counts.active++
		case "quarantine":
			counts.quarantined++
		case "banned":
			counts.banned++
		}
	}

	var summary strings.Builder
	summary.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Registry Overview") + "\n\n")
	summary.WriteString(fmt.Sprintf("%s  %s  %s\n",
		activeStyle.Render(fmt.Sprintf("● %d active", counts.active)),
		quarantineStyle.Render(fmt.Sprintf("● %d quarantined", counts.quarantined)),
		bannedStyle.Render(fmt.Sprintf("● %d banned", counts.banned)),
	))
	if m.leader.Elected {
		self := ""
		if m.leader.IsSelf {
			self = " (this node)"
		}
		summary.WriteString(subtleStyle.Render(fmt.Sprintf("auto-review leader: %s%s", m.leader.HolderID, self)))
	}

	topPane := paneStyle.Render(summary.String())
	header := headerStyle.Render(fmt.Sprintf("%s Agents", m.spinner.View()))
	bottomPane := m.viewport.View()

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d agents", len(m.agents)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, bottomPane, footer)
}

// Commands

func fetchData(api *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		agents, err := api.ListAgents(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		leader, err := api.ClusterLeader(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{agents: agents, leader: leader}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	endpoint := os.Getenv("REGISTRY_URL")
	api := client.NewClient(endpoint)

	p := tea.NewProgram(initialModel(api), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
