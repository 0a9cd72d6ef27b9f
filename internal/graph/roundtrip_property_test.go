package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zhattention/agent-studio/internal/models"
)

// shapeBuilder turns a slice of small ints into a team tree. Names are unique
// across the tree and every inlined team is named by its caller's team_call.
type shapeBuilder struct {
	shape  []int
	prompt string
	pos    int
	teams  int
	agents int
}

func (b *shapeBuilder) next() int {
	if b.pos >= len(b.shape) {
		return 0
	}
	v := b.shape[b.pos]
	b.pos++
	return v
}

func (b *shapeBuilder) team(depth int) *models.TeamSpec {
	b.teams++
	team := &models.TeamSpec{
		TeamHeader: models.TeamHeader{
			Name:       fmt.Sprintf("team_%d", b.teams),
			TeamType:   models.TeamTypeRoundRobin,
			TeamPrompt: b.prompt,
			Duration:   b.next() % 3,
		},
	}

	n := b.next() % 4
	team.Agents = make([]models.AgentSpec, 0, n)
	for i := 0; i < n; i++ {
		b.agents++
		agent := models.AgentSpec{
			Name:   fmt.Sprintf("agent_%d", b.agents),
			Model:  "gpt-4o",
			Prompt: b.prompt,
		}
		if b.agents%2 == 0 {
			agent.Tools = []string{"search", "fetch"}
		}
		if depth < 3 && b.next()%2 == 1 {
			agent.TeamCfg = b.team(depth + 1)
			agent.TeamCall = agent.TeamCfg.Name
		}
		team.Agents = append(team.Agents, agent)
	}
	return team
}

func TestExpandContractRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("contract(expand(cfg)) == cfg", prop.ForAll(
		func(shape []int, prompt string) bool {
			cfg := (&shapeBuilder{shape: shape, prompt: prompt}).team(0)

			out, err := NewExpander(nil, nil).Expand(cfg, 0, 0, "")
			if err != nil {
				return false
			}
			got, err := Contract(out.RootTeamNodeID, &models.CanvasGraph{Nodes: out.Nodes, Edges: out.Edges})
			if err != nil {
				return false
			}
			return reflect.DeepEqual(cfg, got)
		},
		gen.SliceOf(gen.IntRange(0, 7)),
		gen.AlphaString(),
	))

	properties.Property("round trip survives canvas JSON", prop.ForAll(
		func(shape []int) bool {
			cfg := (&shapeBuilder{shape: shape, prompt: "p"}).team(0)

			out, err := NewExpander(nil, nil).Expand(cfg, 10, 10, "")
			if err != nil {
				return false
			}
			raw, err := json.Marshal(models.CanvasGraph{Nodes: out.Nodes, Edges: out.Edges})
			if err != nil {
				return false
			}
			var g models.CanvasGraph
			if err := json.Unmarshal(raw, &g); err != nil {
				return false
			}
			got, err := Contract(out.RootTeamNodeID, &g)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(cfg, got)
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}
