package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhattention/agent-studio/internal/models"
)

func TestExpandLayout(t *testing.T) {
	e := NewExpander(nil, seqIDs())

	out, err := e.Expand(researchTeam(), 100, 50, "")
	require.NoError(t, err)
	require.Equal(t, "team-1", out.RootTeamNodeID)

	positions := map[string]models.Position{}
	for _, node := range out.Nodes {
		positions[node.ID] = node.Position
	}
	assert.Equal(t, map[string]models.Position{
		"team-1":  {X: 100, Y: 50},
		"agent-2": {X: 100, Y: 200},
		"agent-3": {X: 100, Y: 350},
		"team-4":  {X: 330, Y: 200},
		"agent-5": {X: 330, Y: 350},
	}, positions)

	assert.Equal(t, edges(
		"team-1", "agent-2",
		"agent-2", "agent-3",
		"team-4", "agent-5",
		"agent-3", "team-4",
	), out.Edges)
}

func TestExpandNodeData(t *testing.T) {
	cfg := researchTeam()
	out, err := NewExpander(nil, seqIDs()).Expand(cfg, 0, 0, "")
	require.NoError(t, err)

	g := &models.CanvasGraph{Nodes: out.Nodes, Edges: out.Edges}

	root, ok := g.Node("team-1")
	require.True(t, ok)
	assert.Equal(t, cfg.TeamHeader, root.Team.TeamHeader)
	assert.Equal(t, 2, root.Team.AgentCount)

	writer, ok := g.Node("agent-3")
	require.True(t, ok)
	assert.Equal(t, "writer", writer.Agent.Name)
	assert.Equal(t, "review", writer.Agent.TeamCall)
	assert.Nil(t, writer.Agent.TeamCfg, "inlined team must not be copied into node data")
	assert.Equal(t, "research", writer.Agent.SourceConfig)

	critic, ok := g.Node("agent-5")
	require.True(t, ok)
	assert.Equal(t, "review", critic.Agent.SourceConfig)

	// The input is left alone.
	assert.NotNil(t, cfg.Agents[1].TeamCfg)
}

func TestExpandStacksSubTeams(t *testing.T) {
	cfg := &models.TeamSpec{
		TeamHeader: models.TeamHeader{Name: "root"},
		Agents: []models.AgentSpec{
			{Name: "a", TeamCfg: &models.TeamSpec{TeamHeader: models.TeamHeader{Name: "s1"}, Agents: []models.AgentSpec{}}},
			{Name: "b", TeamCfg: &models.TeamSpec{TeamHeader: models.TeamHeader{Name: "s2"}, Agents: []models.AgentSpec{}}},
		},
	}
	out, err := NewExpander(nil, seqIDs()).Expand(cfg, 0, 0, "")
	require.NoError(t, err)

	var subs []models.Position
	for _, node := range out.Nodes {
		if node.Kind == models.NodeTeam && node.ID != out.RootTeamNodeID {
			subs = append(subs, node.Position)
		}
	}
	assert.Equal(t, []models.Position{{X: 230, Y: 150}, {X: 230, Y: 450}}, subs)
}

func TestExpandWithParent(t *testing.T) {
	out, err := NewExpander(nil, seqIDs()).Expand(researchTeam(), 0, 0, "caller")
	require.NoError(t, err)
	assert.Contains(t, out.Edges, newEdge("caller", out.RootTeamNodeID))
}

func TestExpandEmptyTeam(t *testing.T) {
	cfg := &models.TeamSpec{TeamHeader: models.TeamHeader{Name: "solo"}, Agents: []models.AgentSpec{}}
	out, err := NewExpander(nil, seqIDs()).Expand(cfg, 0, 0, "")
	require.NoError(t, err)
	assert.Len(t, out.Nodes, 1)
	assert.Empty(t, out.Edges)
}

func TestExpandInvalidConfig(t *testing.T) {
	cases := map[string]*models.TeamSpec{
		"nil team":       nil,
		"no name":        {Agents: []models.AgentSpec{}},
		"agents missing": {TeamHeader: models.TeamHeader{Name: "t"}},
		"bad team type":  {TeamHeader: models.TeamHeader{Name: "t", TeamType: "mesh"}, Agents: []models.AgentSpec{}},
		"nested agents missing": {
			TeamHeader: models.TeamHeader{Name: "t"},
			Agents: []models.AgentSpec{
				{Name: "a", TeamCall: "s", TeamCfg: &models.TeamSpec{TeamHeader: models.TeamHeader{Name: "s"}}},
			},
		},
		"team_call mismatch": {
			TeamHeader: models.TeamHeader{Name: "t"},
			Agents: []models.AgentSpec{
				{Name: "a", TeamCall: "x", TeamCfg: &models.TeamSpec{TeamHeader: models.TeamHeader{Name: "s"}, Agents: []models.AgentSpec{}}},
			},
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewExpander(nil, seqIDs()).Expand(cfg, 0, 0, "")
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestExpandRejectsDuplicateIDs(t *testing.T) {
	constant := func(models.NodeKind) string { return "same" }
	_, err := NewExpander(nil, constant).Expand(researchTeam(), 0, 0, "")
	require.ErrorIs(t, err, ErrMalformedGraph)
}

func TestAppendTo(t *testing.T) {
	g := &models.CanvasGraph{
		Nodes: []models.GraphNode{teamNode("existing", "old")},
	}
	g.Nodes[0].Position = models.Position{X: 500, Y: 400}

	out, err := NewExpander(nil, seqIDs()).AppendTo(g, researchTeam(), "")
	require.NoError(t, err)

	root, ok := g.Node(out.RootTeamNodeID)
	require.True(t, ok)
	assert.Equal(t, models.Position{X: 800, Y: 50}, root.Position)
	assert.Len(t, g.Nodes, 6)
	assert.Len(t, g.Edges, 4)
}

func TestAppendToEmptyCanvas(t *testing.T) {
	g := &models.CanvasGraph{}
	out, err := NewExpander(nil, seqIDs()).AppendTo(g, researchTeam(), "")
	require.NoError(t, err)
	root, _ := g.Node(out.RootTeamNodeID)
	assert.Equal(t, models.Position{X: 300, Y: 50}, root.Position)
}

func TestAppendToUnknownParent(t *testing.T) {
	g := &models.CanvasGraph{}
	_, err := NewExpander(nil, seqIDs()).AppendTo(g, researchTeam(), "ghost")
	require.ErrorIs(t, err, ErrMissingNode)
	assert.Empty(t, g.Nodes)
}

func TestAppendToCollidingIDs(t *testing.T) {
	g := &models.CanvasGraph{Nodes: []models.GraphNode{teamNode("team-1", "old")}}
	_, err := NewExpander(nil, seqIDs()).AppendTo(g, researchTeam(), "")
	require.ErrorIs(t, err, ErrMalformedGraph)
	assert.Len(t, g.Nodes, 1)
}
