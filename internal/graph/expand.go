package graph

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zhattention/agent-studio/internal/models"
)

// Layout of an expanded team, in canvas units.
const (
	agentSpacing   = 150.0
	subTeamOffsetX = 230.0
	subTeamStackY  = 300.0
	appendGapX     = 300.0
	appendStartY   = 50.0
)

// IDFunc returns a fresh node id for a node of the given kind.
type IDFunc func(kind models.NodeKind) string

// UUIDNodeIDs is the default IDFunc.
func UUIDNodeIDs(kind models.NodeKind) string {
	return string(kind) + "_" + uuid.NewString()
}

// Expansion is the canvas fragment produced from one team document.
type Expansion struct {
	Nodes          []models.GraphNode
	Edges          []models.GraphEdge
	RootTeamNodeID string
}

// Expander turns team documents into canvas nodes and edges.
type Expander struct {
	newID  IDFunc
	logger *slog.Logger
}

func NewExpander(logger *slog.Logger, newID IDFunc) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	if newID == nil {
		newID = UUIDNodeIDs
	}
	return &Expander{newID: newID, logger: logger}
}

// Expand lays out cfg with its team node at (anchorX, anchorY) and its agents
// stacked below it, chained in order. Inlined sub-teams are expanded to the
// right and wired to their delegating agent. When parentNodeID is set an
// extra edge parentNodeID -> team node is emitted.
//
// The whole document is validated before anything is built, and each subtree
// is assembled on its own and merged only once it is complete.
func (e *Expander) Expand(cfg *models.TeamSpec, anchorX, anchorY float64, parentNodeID string) (*Expansion, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out, err := e.expand(cfg, anchorX, anchorY, parentNodeID)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("expanded team",
		slog.String("team", cfg.Name),
		slog.Int("nodes", len(out.Nodes)),
		slog.Int("edges", len(out.Edges)),
	)
	return out, nil
}

// AppendTo expands cfg to the right of every node already in g and appends
// the result to g. parentNodeID, when set, must name a node of g.
func (e *Expander) AppendTo(g *models.CanvasGraph, cfg *models.TeamSpec, parentNodeID string) (*Expansion, error) {
	if parentNodeID != "" {
		if _, ok := g.Node(parentNodeID); !ok {
			return nil, fmt.Errorf("%w: parent %q", ErrMissingNode, parentNodeID)
		}
	}

	maxX := 0.0
	for i, node := range g.Nodes {
		if i == 0 || node.Position.X > maxX {
			maxX = node.Position.X
		}
	}

	out, err := e.Expand(cfg, maxX+appendGapX, appendStartY, parentNodeID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		seen[node.ID] = true
	}
	for _, node := range out.Nodes {
		if seen[node.ID] {
			return nil, fmt.Errorf("%w: node id %q already on the canvas", ErrMalformedGraph, node.ID)
		}
	}

	g.Nodes = append(g.Nodes, out.Nodes...)
	g.Edges = append(g.Edges, out.Edges...)
	return out, nil
}

func (e *Expander) expand(cfg *models.TeamSpec, x, y float64, parentNodeID string) (*Expansion, error) {
	teamID := e.newID(models.NodeTeam)
	out := &Expansion{RootTeamNodeID: teamID}

	out.Nodes = append(out.Nodes, models.GraphNode{
		ID:       teamID,
		Kind:     models.NodeTeam,
		Position: models.Position{X: x, Y: y},
		Team: &models.TeamNodeData{
			TeamHeader: cfg.TeamHeader,
			AgentCount: len(cfg.Agents),
		},
	})

	agentIDs := make([]string, len(cfg.Agents))
	for i, agent := range cfg.Agents {
		agentIDs[i] = e.newID(models.NodeAgent)

		data := agent.Clone()
		data.TeamCfg = nil
		out.Nodes = append(out.Nodes, models.GraphNode{
			ID:       agentIDs[i],
			Kind:     models.NodeAgent,
			Position: models.Position{X: x, Y: y + float64(i+1)*agentSpacing},
			Agent:    &models.AgentNodeData{AgentSpec: data, SourceConfig: cfg.Name},
		})
	}

	for i, id := range agentIDs {
		if i == 0 {
			out.Edges = append(out.Edges, newEdge(teamID, id))
		}
		if i < len(agentIDs)-1 {
			out.Edges = append(out.Edges, newEdge(id, agentIDs[i+1]))
		}
	}
	if parentNodeID != "" {
		out.Edges = append(out.Edges, newEdge(parentNodeID, teamID))
	}

	if err := checkEdges(out, parentNodeID); err != nil {
		return nil, fmt.Errorf("team %q: %w", cfg.Name, err)
	}

	offsetY := 0.0
	for i, agent := range cfg.Agents {
		if agent.TeamCfg == nil {
			continue
		}
		sub, err := e.expand(agent.TeamCfg, x+subTeamOffsetX, y+agentSpacing+offsetY, agentIDs[i])
		if err != nil {
			return nil, fmt.Errorf("team %q: agent %q: %w", cfg.Name, agent.Name, err)
		}
		out.Nodes = append(out.Nodes, sub.Nodes...)
		out.Edges = append(out.Edges, sub.Edges...)
		offsetY += subTeamStackY
	}

	if err := checkNodeIDs(out); err != nil {
		return nil, fmt.Errorf("team %q: %w", cfg.Name, err)
	}
	return out, nil
}

func newEdge(source, target string) models.GraphEdge {
	return models.GraphEdge{
		ID:     fmt.Sprintf("edge_%s_to_%s", source, target),
		Source: source,
		Target: target,
		Type:   "default",
	}
}

// checkEdges rejects any edge whose endpoints are empty, equal, or outside
// the fragment. The only outside endpoint allowed is parentNodeID as a source.
func checkEdges(out *Expansion, parentNodeID string) error {
	ids := make(map[string]bool, len(out.Nodes))
	for _, node := range out.Nodes {
		ids[node.ID] = true
	}
	for _, edge := range out.Edges {
		switch {
		case edge.ID == "":
			return fmt.Errorf("%w: edge %s -> %s has no id", ErrMalformedGraph, edge.Source, edge.Target)
		case edge.Source == "" || edge.Target == "":
			return fmt.Errorf("%w: edge %q has an empty endpoint", ErrMalformedGraph, edge.ID)
		case edge.Source == edge.Target:
			return fmt.Errorf("%w: edge %q is a self loop", ErrMalformedGraph, edge.ID)
		case !ids[edge.Source] && edge.Source != parentNodeID:
			return fmt.Errorf("%w: edge %q has unknown source %q", ErrMalformedGraph, edge.ID, edge.Source)
		case !ids[edge.Target]:
			return fmt.Errorf("%w: edge %q has unknown target %q", ErrMalformedGraph, edge.ID, edge.Target)
		}
	}
	return nil
}

func checkNodeIDs(out *Expansion) error {
	seen := make(map[string]bool, len(out.Nodes))
	for _, node := range out.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrMalformedGraph)
		}
		if seen[node.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrMalformedGraph, node.ID)
		}
		seen[node.ID] = true
	}
	return nil
}
