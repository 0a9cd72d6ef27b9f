package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhattention/agent-studio/internal/execution"
	"github.com/zhattention/agent-studio/internal/models"
	"github.com/zhattention/agent-studio/internal/orchestrator"
)

func newTestApp(t *testing.T) (*App, *execution.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := execution.NewRegistry()
	orch := orchestrator.New(orchestrator.Deps{Registry: registry})
	return NewApp(ctx, orch, []string{"research"}), registry
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(a *App, msg tea.Msg) {
	_, _ = a.Update(msg)
}

func TestSessionListAndDetail(t *testing.T) {
	app, registry := newTestApp(t)

	older := registry.Start("research")
	_, err := registry.Ingest(older, []byte(`{"source":"planner","type":"TextMessage","content":"plan","models_usage":{"prompt_tokens":3,"completion_tokens":4}}`))
	require.NoError(t, err)
	_, err = registry.Ingest(older, []byte(`{"source":"writer","type":"TextMessage","content":"draft"}`))
	require.NoError(t, err)
	_, err = registry.Ingest(older, []byte(`{"status":"completed"}`))
	require.NoError(t, err)
	newer := registry.Start("review")

	send(app, app.loadSessions())
	require.Len(t, app.sessions, 2)
	assert.Equal(t, newer, app.sessions[0].ID)
	assert.Contains(t, app.View(), "research")
	assert.Contains(t, app.View(), "review")

	send(app, key("j"))
	assert.Equal(t, 1, app.selectedIdx)
	send(app, key("enter"))
	require.Equal(t, ViewSessionDetail, app.view)
	assert.Equal(t, older, app.detail.ID)

	view := app.View()
	assert.Contains(t, view, "planner (1)")
	assert.Contains(t, view, "3 prompt / 4 completion")
	assert.Contains(t, app.viewport.View(), "plan")

	send(app, key("right"))
	assert.Equal(t, 1, app.agentIdx)
	assert.Contains(t, app.viewport.View(), "draft")

	send(app, key("esc"))
	assert.Equal(t, ViewSessionList, app.view)
}

func TestAbortFromList(t *testing.T) {
	app, registry := newTestApp(t)
	id := registry.Start("research")
	send(app, app.loadSessions())

	_, cmd := app.Update(key("x"))
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, abortedMsg{}, msg)
	assert.NoError(t, msg.(abortedMsg).err)

	s, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.SessionError, s.Status)
	assert.Equal(t, execution.AbortMessage, s.Error)
}

func TestNewRunRequiresTeam(t *testing.T) {
	app, _ := newTestApp(t)

	send(app, key("n"))
	require.Equal(t, ViewNewRun, app.view)
	assert.Contains(t, app.View(), "research")

	_, cmd := app.Update(key("enter"))
	assert.Nil(t, cmd)
	require.Error(t, app.err)

	send(app, key("esc"))
	assert.Equal(t, ViewSessionList, app.view)
}

func TestClearSessions(t *testing.T) {
	app, registry := newTestApp(t)
	registry.Start("research")
	send(app, app.loadSessions())

	_, cmd := app.Update(key("c"))
	require.NotNil(t, cmd)
	send(app, cmd())
	assert.Empty(t, app.sessions)
	assert.Contains(t, app.View(), "No executions yet")
}

func TestHistoryWithoutStorage(t *testing.T) {
	app, _ := newTestApp(t)

	_, cmd := app.Update(key("h"))
	require.NotNil(t, cmd)
	send(app, cmd())
	require.ErrorIs(t, app.err, orchestrator.ErrNoHistory)
	assert.Equal(t, ViewSessionList, app.view)
}
