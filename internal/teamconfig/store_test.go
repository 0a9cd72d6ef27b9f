package teamconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhattention/agent-studio/internal/models"
)

func newTestStore(t *testing.T, fallback ...string) *FileStore {
	t.Helper()
	s, err := NewFileStore(nil, t.TempDir(), fallback...)
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func reviewTeam() *models.TeamSpec {
	return &models.TeamSpec{
		TeamHeader: models.TeamHeader{Name: "review", TeamType: models.TeamTypeTree, Duration: -1},
		Agents: []models.AgentSpec{
			{
				Name:          "critic",
				Model:         "gpt-4o",
				Tools:         []string{"lint"},
				ForceToolCall: "lint",
				ForceToolArgs: map[string]models.ToolCallParam{
					"path": {Type: "value", Value: "README.md"},
				},
			},
		},
	}
}

func TestWriteReadConfig(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteConfig("review", reviewTeam()))

	got, err := s.ReadConfig("review")
	require.NoError(t, err)
	assert.Equal(t, reviewTeam(), got)

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "review.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"agents": [`)
	assert.NotContains(t, string(raw), "team_cfg")
}

func TestReadConfigErrors(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadConfig("nope")
	require.ErrorIs(t, err, ErrConfigNotFound)

	_, err = s.ReadConfig("../etc/passwd")
	require.ErrorIs(t, err, models.ErrInvalidConfig)

	writeFile(t, s.Dir(), "noagents.json", `{"name":"noagents"}`)
	_, err = s.ReadConfig("noagents")
	require.ErrorIs(t, err, models.ErrInvalidConfig)

	writeFile(t, s.Dir(), "notalist.json", `{"name":"notalist","agents":{"a":{}}}`)
	_, err = s.ReadConfig("notalist")
	require.ErrorIs(t, err, models.ErrInvalidConfig)

	writeFile(t, s.Dir(), "inlined.json", `{"name":"inlined","agents":[{"name":"a","team_cfg":{"name":"b","agents":[]}}]}`)
	_, err = s.ReadConfig("inlined")
	require.ErrorIs(t, err, models.ErrInvalidConfig)

	writeFile(t, s.Dir(), "broken.json", `{"name":`)
	_, err = s.ReadConfig("broken")
	require.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestWriteConfigRejectsInlinedTeams(t *testing.T) {
	s := newTestStore(t)
	team := &models.TeamSpec{
		TeamHeader: models.TeamHeader{Name: "parent"},
		Agents: []models.AgentSpec{
			{Name: "a", TeamCall: "review", TeamCfg: reviewTeam()},
		},
	}

	require.ErrorIs(t, s.WriteConfig("parent", team), models.ErrInvalidConfig)
	require.ErrorIs(t, s.WriteConfig("other", reviewTeam()), models.ErrInvalidConfig)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListAndFallback(t *testing.T) {
	project := t.TempDir()
	s := newTestStore(t, project)

	require.NoError(t, s.WriteConfig("review", reviewTeam()))
	writeFile(t, project, "shared.json", `{"name":"shared","agents":[]}`)
	writeFile(t, project, "review.json", `{"name":"review","agents":[]}`)
	writeFile(t, project, "notes.txt", "ignore me")
	writeFile(t, s.Dir(), ".review-123.tmp", "{}")

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"review", "shared"}, names)

	shared, err := s.ReadConfig("shared")
	require.NoError(t, err)
	assert.Equal(t, "shared", shared.Name)

	review, err := s.ReadConfig("review")
	require.NoError(t, err)
	assert.Len(t, review.Agents, 1, "first directory wins")
}

func TestListMissingDir(t *testing.T) {
	s, err := NewFileStore(nil, filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
