package graph

import (
	"fmt"

	"github.com/zhattention/agent-studio/internal/models"
)

// seqIDs numbers nodes in creation order: team-1, agent-2, ...
func seqIDs() IDFunc {
	n := 0
	return func(kind models.NodeKind) string {
		n++
		return fmt.Sprintf("%s-%d", kind, n)
	}
}

func agentNode(id, name string) models.GraphNode {
	return models.GraphNode{
		ID:    id,
		Kind:  models.NodeAgent,
		Agent: &models.AgentNodeData{AgentSpec: models.AgentSpec{Name: name, Model: "gpt-4o"}},
	}
}

func teamNode(id, name string) models.GraphNode {
	return models.GraphNode{
		ID:   id,
		Kind: models.NodeTeam,
		Team: &models.TeamNodeData{TeamHeader: models.TeamHeader{Name: name, TeamType: models.TeamTypeRoundRobin}},
	}
}

func edges(pairs ...string) []models.GraphEdge {
	out := make([]models.GraphEdge, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, newEdge(pairs[i], pairs[i+1]))
	}
	return out
}

func agentNames(team *models.TeamSpec) []string {
	names := make([]string, len(team.Agents))
	for i, agent := range team.Agents {
		names[i] = agent.Name
	}
	return names
}

func researchTeam() *models.TeamSpec {
	return &models.TeamSpec{
		TeamHeader: models.TeamHeader{
			Name:       "research",
			TeamType:   models.TeamTypeRoundRobin,
			TeamPrompt: "Find and summarise sources.",
		},
		Agents: []models.AgentSpec{
			{Name: "planner", Model: "gpt-4o", Tools: []string{"search"}},
			{
				Name:     "writer",
				Model:    "gpt-4o-mini",
				Tools:    []string{},
				TeamCall: "review",
				TeamCfg: &models.TeamSpec{
					TeamHeader: models.TeamHeader{Name: "review", TeamType: models.TeamTypeTree},
					Agents: []models.AgentSpec{
						{Name: "critic", Model: "gpt-4o"},
					},
				},
			},
		},
	}
}
