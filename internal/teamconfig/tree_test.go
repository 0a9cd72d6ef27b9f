package teamconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhattention/agent-studio/internal/models"
)

func composedTeam() *models.TeamSpec {
	return &models.TeamSpec{
		TeamHeader: models.TeamHeader{Name: "research", TeamType: models.TeamTypeRoundRobin},
		Agents: []models.AgentSpec{
			{Name: "planner", Model: "gpt-4o"},
			{Name: "writer", Model: "gpt-4o", TeamCall: "review", TeamCfg: reviewTeam()},
		},
	}
}

func TestSaveTreeThenLoadTree(t *testing.T) {
	s := newTestStore(t)

	names, err := s.SaveTree(composedTeam())
	require.NoError(t, err)
	assert.Equal(t, []string{"review", "research"}, names)

	stored, err := s.ReadConfig("research")
	require.NoError(t, err)
	assert.Equal(t, "review", stored.Agents[1].TeamCall)
	assert.Nil(t, stored.Agents[1].TeamCfg)

	loaded, err := s.LoadTree("research")
	require.NoError(t, err)
	assert.Equal(t, composedTeam(), loaded)
}

func TestSaveTreeAlignsSubTeamNames(t *testing.T) {
	s := newTestStore(t)
	team := composedTeam()
	team.Agents[1].TeamCfg.Name = "renamed_on_canvas"

	names, err := s.SaveTree(team)
	require.NoError(t, err)
	assert.Equal(t, []string{"review", "research"}, names)
	assert.Equal(t, "renamed_on_canvas", team.Agents[1].TeamCfg.Name, "input is not modified")

	team = composedTeam()
	team.Agents[1].TeamCall = ""
	_, err = s.SaveTree(team)
	require.NoError(t, err)
	stored, err := s.ReadConfig("research")
	require.NoError(t, err)
	assert.Equal(t, "review", stored.Agents[1].TeamCall)
}

func TestSaveTreeWritesNothingWhenInvalid(t *testing.T) {
	cases := map[string]func(*models.TeamSpec){
		"duplicate agent in sub-team": func(team *models.TeamSpec) {
			sub := team.Agents[1].TeamCfg
			sub.Agents = append(sub.Agents, sub.Agents[0])
		},
		"sub-team without agents": func(team *models.TeamSpec) {
			team.Agents[1].TeamCfg.Agents = nil
		},
		"conflicting sub-teams": func(team *models.TeamSpec) {
			other := reviewTeam()
			other.TeamPrompt = "different"
			team.Agents[0].TeamCall = "review"
			team.Agents[0].TeamCfg = other
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			team := composedTeam()
			mutate(team)

			_, err := s.SaveTree(team)
			require.ErrorIs(t, err, models.ErrInvalidConfig)

			entries, err := os.ReadDir(s.Dir())
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestSaveTreeSharedSubTeam(t *testing.T) {
	s := newTestStore(t)
	team := composedTeam()
	team.Agents[0].TeamCall = "review"
	team.Agents[0].TeamCfg = reviewTeam()

	names, err := s.SaveTree(team)
	require.NoError(t, err)
	assert.Equal(t, []string{"review", "research"}, names)
}

func TestLoadTreeMissingReference(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.Dir(), "root.json", `{"name":"root","agents":[{"name":"a","team_call":"ghost"}]}`)

	_, err := s.LoadTree("root")
	require.ErrorIs(t, err, ErrConfigNotFound)
	assert.Contains(t, err.Error(), `agent "a"`)
}

func TestLoadTreeCycle(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.Dir(), "x.json", `{"name":"x","agents":[{"name":"to_y","team_call":"y"}]}`)
	writeFile(t, s.Dir(), "y.json", `{"name":"y","agents":[{"name":"to_x","team_call":"x"}]}`)

	x, err := s.LoadTree("x")
	require.NoError(t, err)

	y := x.Agents[0].TeamCfg
	require.NotNil(t, y)
	assert.Equal(t, "y", y.Name)
	assert.Equal(t, "x", y.Agents[0].TeamCall)
	assert.Nil(t, y.Agents[0].TeamCfg)
}

func TestLoadTreeRepeatedReference(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.Dir(), "leaf.json", `{"name":"leaf","agents":[]}`)
	writeFile(t, s.Dir(), "root.json", `{"name":"root","agents":[
		{"name":"a","team_call":"leaf"},
		{"name":"b","team_call":"leaf"}
	]}`)

	root, err := s.LoadTree("root")
	require.NoError(t, err)
	require.NotNil(t, root.Agents[0].TeamCfg)
	require.NotNil(t, root.Agents[1].TeamCfg)
	assert.NotSame(t, root.Agents[0].TeamCfg, root.Agents[1].TeamCfg)
}
