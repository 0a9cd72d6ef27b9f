package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhattention/agent-studio/internal/execution"
	"github.com/zhattention/agent-studio/internal/models"
	"github.com/zhattention/agent-studio/internal/orchestrator"
	"github.com/zhattention/agent-studio/internal/storage"
)

type View int

const (
	ViewSessionList View = iota
	ViewSessionDetail
	ViewNewRun
	ViewHistory
)

const historyLimit = 50

type App struct {
	orchestrator *orchestrator.Orchestrator
	teams        []string
	ctx          context.Context
	changes      <-chan execution.Change

	view        View
	sessions    []*models.Session
	selectedIdx int

	detail   *models.Session
	agentIdx int
	viewport viewport.Model

	history    []*models.Session
	historyIdx int

	teamInput    textinput.Model
	contentInput textinput.Model

	width  int
	height int
	err    error
}

// NewApp builds the session viewer. teams is offered as a hint on the new
// run form. The app stops watching the registry when ctx is done.
func NewApp(ctx context.Context, orch *orchestrator.Orchestrator, teams []string) *App {
	team := textinput.New()
	team.Placeholder = "team name"
	team.CharLimit = 128
	content := textinput.New()
	content.Placeholder = "task for the team"

	return &App{
		orchestrator: orch,
		teams:        teams,
		ctx:          ctx,
		changes:      orch.Registry().Watch(ctx),
		view:         ViewSessionList,
		viewport:     viewport.New(80, 20),
		teamInput:    team,
		contentInput: content,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadSessions, a.waitForChange(), a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange turns the next registry change into a message.
func (a *App) waitForChange() tea.Cmd {
	return func() tea.Msg {
		change, ok := <-a.changes
		if !ok {
			return nil
		}
		return changeMsg(change)
	}
}

func (a *App) hasRunningSessions() bool {
	for _, s := range a.sessions {
		if s.Status == models.SessionRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

type changeMsg execution.Change

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-8, 3)
		a.refreshViewport()
		return a, nil

	case sessionsLoadedMsg:
		a.sessions = msg.sessions
		if a.selectedIdx >= len(a.sessions) {
			a.selectedIdx = max(len(a.sessions)-1, 0)
		}
		if a.detail != nil {
			if s, ok := a.orchestrator.Registry().Get(a.detail.ID); ok {
				a.detail = s
				a.refreshViewport()
			}
		}
		return a, nil

	case changeMsg:
		return a, tea.Batch(a.loadSessions, a.waitForChange())

	case tickMsg:
		// Running sessions show elapsed time.
		if a.hasRunningSessions() {
			return a, tea.Batch(a.loadSessions, a.tickCmd())
		}
		return a, a.tickCmd()

	case runStartedMsg:
		a.err = msg.err
		a.openDetail(msg.id)
		return a, a.loadSessions

	case abortedMsg:
		a.err = msg.err
		return a, a.loadSessions

	case historyLoadedMsg:
		a.err = msg.err
		if msg.err == nil {
			a.history = msg.sessions
			a.historyIdx = 0
			a.view = ViewHistory
		}
		return a, nil

	case historyOpenedMsg:
		a.err = msg.err
		if msg.err == nil {
			a.openDetail(msg.id)
		}
		return a, a.loadSessions
	}

	return a, nil
}

func (a *App) openDetail(id string) {
	s, ok := a.orchestrator.Registry().Get(id)
	if !ok {
		return
	}
	_ = a.orchestrator.Registry().SetCurrent(id)
	a.detail = s
	a.agentIdx = 0
	a.view = ViewSessionDetail
	a.refreshViewport()
	a.viewport.GotoTop()
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}
	switch a.view {
	case ViewSessionList:
		return a.handleSessionListKey(msg)
	case ViewSessionDetail:
		return a.handleSessionDetailKey(msg)
	case ViewNewRun:
		return a.handleNewRunKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	}
	return a, nil
}

func (a *App) handleSessionListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.sessions)-1 {
			a.selectedIdx++
		}

	case "enter":
		if s := a.selectedSession(); s != nil {
			a.openDetail(s.ID)
		}

	case "n":
		a.view = ViewNewRun
		a.err = nil
		a.teamInput.Focus()
		a.contentInput.Blur()
		return a, textinput.Blink

	case "x":
		if s := a.selectedSession(); s != nil {
			return a, a.abort(s.ID)
		}

	case "h":
		return a, a.loadHistory

	case "c":
		a.orchestrator.Registry().Clear()
		a.selectedIdx = 0
		return a, a.loadSessions

	case "r":
		return a, a.loadSessions
	}

	return a, nil
}

func (a *App) selectedSession() *models.Session {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.sessions) {
		return nil
	}
	return a.sessions[a.selectedIdx]
}

func (a *App) handleSessionDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewSessionList
		a.detail = nil
		return a, nil

	case "left", "h", "shift+tab":
		if a.agentIdx > 0 {
			a.agentIdx--
			a.refreshViewport()
			a.viewport.GotoTop()
		}
		return a, nil

	case "right", "l", "tab":
		if a.detail != nil && a.agentIdx < len(a.detail.AgentOrder)-1 {
			a.agentIdx++
			a.refreshViewport()
			a.viewport.GotoTop()
		}
		return a, nil

	case "x":
		if a.detail != nil {
			return a, a.abort(a.detail.ID)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleNewRunKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.view = ViewSessionList
		return a, nil

	case "tab", "shift+tab":
		if a.teamInput.Focused() {
			a.teamInput.Blur()
			a.contentInput.Focus()
		} else {
			a.contentInput.Blur()
			a.teamInput.Focus()
		}
		return a, textinput.Blink

	case "enter":
		team := strings.TrimSpace(a.teamInput.Value())
		if team == "" {
			a.err = fmt.Errorf("team name is required")
			return a, nil
		}
		content := a.contentInput.Value()
		a.teamInput.SetValue("")
		a.contentInput.SetValue("")
		return a, a.startRun(team, content)
	}

	var cmd tea.Cmd
	if a.teamInput.Focused() {
		a.teamInput, cmd = a.teamInput.Update(msg)
	} else {
		a.contentInput, cmd = a.contentInput.Update(msg)
	}
	return a, cmd
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewSessionList

	case "up", "k":
		if a.historyIdx > 0 {
			a.historyIdx--
		}

	case "down", "j":
		if a.historyIdx < len(a.history)-1 {
			a.historyIdx++
		}

	case "enter":
		if a.historyIdx < len(a.history) {
			return a, a.openHistory(a.history[a.historyIdx].ID)
		}
	}
	return a, nil
}

func (a *App) View() string {
	switch a.view {
	case ViewSessionList:
		return a.viewSessionList()
	case ViewSessionDetail:
		return a.viewSessionDetail()
	case ViewNewRun:
		return a.viewNewRun()
	case ViewHistory:
		return a.viewHistory()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	tabStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("243"))

	eventTypeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (a *App) viewSessionList() string {
	s := titleStyle.Render("Agent Studio") + "\n\n"

	if a.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	if len(a.sessions) == 0 {
		s += "No executions yet. Press 'n' to run a team.\n"
	} else {
		s += "Executions\n"
		s += "──────────\n"

		for i, session := range a.sessions {
			line := a.formatSessionLine(session)
			switch {
			case i == a.selectedIdx:
				line = selectedStyle.Render("▶ " + line)
			case session.Status != models.SessionRunning:
				line = "  " + dimStyle.Render(line)
			default:
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [n] new run  [x] abort  [h] history  [c] clear  [q] quit")
	return s
}

func (a *App) formatSessionLine(s *models.Session) string {
	usage := s.Usage()
	return fmt.Sprintf("%-18s %s  %-9s  %3d events  %6d tokens",
		truncate(s.TeamName, 18),
		formatStatus(s.Status),
		storage.FormatTimeAgo(s.StartedAt),
		s.EventCount(),
		usage.Total(),
	)
}

func formatStatus(status models.SessionStatus) string {
	switch status {
	case models.SessionRunning:
		return statusRunning.Render("● running  ")
	case models.SessionCompleted:
		return statusComplete.Render("✓ completed")
	case models.SessionError:
		return statusFailed.Render("✗ error    ")
	default:
		return string(status)
	}
}

func (a *App) viewSessionDetail() string {
	if a.detail == nil {
		return "No execution selected"
	}
	session := a.detail
	usage := session.Usage()

	s := titleStyle.Render(session.TeamName) + "  " + formatStatus(session.Status) + "\n"
	s += labelStyle.Render("ID: ") + dimStyle.Render(session.ID) +
		labelStyle.Render("  Duration: ") + dimStyle.Render(formatDuration(sessionDuration(session))) +
		labelStyle.Render("  Tokens: ") + dimStyle.Render(fmt.Sprintf("%d prompt / %d completion", usage.PromptTokens, usage.CompletionTokens)) + "\n"
	if session.Error != "" {
		s += errorStyle.Render(session.Error) + "\n"
	}
	s += "\n"

	if len(session.AgentOrder) == 0 {
		s += "(no agent events yet)\n"
	} else {
		tabs := make([]string, len(session.AgentOrder))
		for i, agent := range session.AgentOrder {
			label := fmt.Sprintf("%s (%d)", agent, len(session.AgentEvents[agent]))
			if i == a.agentIdx {
				tabs[i] = activeTabStyle.Render(label)
			} else {
				tabs[i] = tabStyle.Render(label)
			}
		}
		s += lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "\n\n"
		s += a.viewport.View() + "\n"
	}

	s += "\n" + helpStyle.Render("[←/→] agent  [↑/↓] scroll  [x] abort  [esc] back")
	return s
}

// refreshViewport renders the events of the selected agent into the
// viewport.
func (a *App) refreshViewport() {
	if a.detail == nil || len(a.detail.AgentOrder) == 0 {
		a.viewport.SetContent("")
		return
	}
	if a.agentIdx >= len(a.detail.AgentOrder) {
		a.agentIdx = len(a.detail.AgentOrder) - 1
	}
	agent := a.detail.AgentOrder[a.agentIdx]
	a.viewport.SetContent(renderEvents(a.detail.AgentEvents[agent], a.viewport.Width))
}

func renderEvents(events []models.ThreadEvent, width int) string {
	var b strings.Builder
	body := lipgloss.NewStyle().Width(max(width-2, 20))
	for i, event := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		header := eventTypeStyle.Render(string(event.Type))
		if event.Timestamp != "" {
			header += " " + dimStyle.Render(event.Timestamp)
		}
		if event.ModelsUsage != nil {
			header += " " + dimStyle.Render(fmt.Sprintf("[%d/%d tokens]", event.ModelsUsage.PromptTokens, event.ModelsUsage.CompletionTokens))
		}
		b.WriteString(header + "\n")
		b.WriteString(body.Render(event.ContentText()) + "\n")
	}
	return b.String()
}

func sessionDuration(s *models.Session) time.Duration {
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

func (a *App) viewNewRun() string {
	s := titleStyle.Render("New Run") + "\n\n"

	if a.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n"
	}

	s += labelStyle.Render("Team") + "\n" + a.teamInput.View() + "\n\n"
	s += labelStyle.Render("Content") + "\n" + a.contentInput.View() + "\n\n"

	if len(a.teams) > 0 {
		s += dimStyle.Render("Available teams: "+strings.Join(a.teams, ", ")) + "\n"
	}

	s += "\n" + helpStyle.Render("[tab] switch field  [enter] run  [esc] cancel")
	return s
}

func (a *App) viewHistory() string {
	s := titleStyle.Render("History") + "\n\n"

	if len(a.history) == 0 {
		s += "No recorded executions.\n"
	}
	for i, session := range a.history {
		line := fmt.Sprintf("%-18s %s  %s", truncate(session.TeamName, 18), formatStatus(session.Status), storage.FormatTimeAgo(session.StartedAt))
		if i == a.historyIdx {
			line = selectedStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[enter] open  [esc] back")
	return s
}

// Messages

type sessionsLoadedMsg struct {
	sessions []*models.Session
}

type runStartedMsg struct {
	id  string
	err error
}

type abortedMsg struct {
	id  string
	err error
}

type historyLoadedMsg struct {
	sessions []*models.Session
	err      error
}

type historyOpenedMsg struct {
	id  string
	err error
}

// Commands

func (a *App) loadSessions() tea.Msg {
	return sessionsLoadedMsg{sessions: a.orchestrator.Registry().List()}
}

func (a *App) startRun(team, content string) tea.Cmd {
	return func() tea.Msg {
		id, err := a.orchestrator.Start(a.ctx, orchestrator.RunRequest{Team: team, Content: content})
		return runStartedMsg{id: id, err: err}
	}
}

func (a *App) abort(id string) tea.Cmd {
	return func() tea.Msg {
		return abortedMsg{id: id, err: a.orchestrator.Abort(id)}
	}
}

func (a *App) loadHistory() tea.Msg {
	sessions, err := a.orchestrator.History(historyLimit)
	return historyLoadedMsg{sessions: sessions, err: err}
}

func (a *App) openHistory(id string) tea.Cmd {
	return func() tea.Msg {
		_, err := a.orchestrator.OpenHistory(id)
		return historyOpenedMsg{id: id, err: err}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
