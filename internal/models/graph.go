package models

import (
	"encoding/json"
	"fmt"
)

type NodeKind string

const (
	NodeAgent NodeKind = "agent"
	NodeTeam  NodeKind = "team"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AgentNodeData is the payload of an agent node.
type AgentNodeData struct {
	AgentSpec
	// SourceConfig names the document the node was expanded from. It is
	// informational and never read when contracting.
	SourceConfig string `json:"_sourceConfig,omitempty"`
}

// TeamNodeData is the payload of a team node.
type TeamNodeData struct {
	TeamHeader
	AgentCount int `json:"agentCount,omitempty"`
}

// GraphNode is one canvas node. Exactly one of Agent and Team is set,
// matching Kind.
type GraphNode struct {
	ID       string
	Kind     NodeKind
	Position Position
	Agent    *AgentNodeData
	Team     *TeamNodeData
}

type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type,omitempty"`
}

type CanvasGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type graphNodeJSON struct {
	ID       string          `json:"id"`
	Type     NodeKind        `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data"`
}

func (n GraphNode) MarshalJSON() ([]byte, error) {
	var data any
	switch n.Kind {
	case NodeAgent:
		if n.Agent == nil {
			return nil, fmt.Errorf("agent node %q has no data", n.ID)
		}
		data = n.Agent
	case NodeTeam:
		if n.Team == nil {
			return nil, fmt.Errorf("team node %q has no data", n.ID)
		}
		data = n.Team
	default:
		return nil, fmt.Errorf("node %q: unknown type %q", n.ID, n.Kind)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(graphNodeJSON{ID: n.ID, Type: n.Kind, Position: n.Position, Data: raw})
}

func (n *GraphNode) UnmarshalJSON(b []byte) error {
	var wire graphNodeJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	node := GraphNode{ID: wire.ID, Kind: wire.Type, Position: wire.Position}
	switch wire.Type {
	case NodeAgent:
		node.Agent = &AgentNodeData{}
		if len(wire.Data) > 0 {
			if err := json.Unmarshal(wire.Data, node.Agent); err != nil {
				return fmt.Errorf("agent node %q: %w", wire.ID, err)
			}
		}
	case NodeTeam:
		node.Team = &TeamNodeData{}
		if len(wire.Data) > 0 {
			if err := json.Unmarshal(wire.Data, node.Team); err != nil {
				return fmt.Errorf("team node %q: %w", wire.ID, err)
			}
		}
	default:
		return fmt.Errorf("node %q: unknown type %q", wire.ID, wire.Type)
	}
	*n = node
	return nil
}

// Name returns the agent or team name carried by the node.
func (n *GraphNode) Name() string {
	switch {
	case n.Agent != nil:
		return n.Agent.Name
	case n.Team != nil:
		return n.Team.Name
	}
	return ""
}

// Node looks up a node by id.
func (g *CanvasGraph) Node(id string) (*GraphNode, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy, suitable as a consistent snapshot for contraction.
func (g *CanvasGraph) Clone() *CanvasGraph {
	if g == nil {
		return nil
	}
	out := &CanvasGraph{
		Nodes: make([]GraphNode, len(g.Nodes)),
		Edges: append([]GraphEdge(nil), g.Edges...),
	}
	for i, node := range g.Nodes {
		out.Nodes[i] = node
		if node.Agent != nil {
			agent := AgentNodeData{AgentSpec: node.Agent.AgentSpec.Clone(), SourceConfig: node.Agent.SourceConfig}
			out.Nodes[i].Agent = &agent
		}
		if node.Team != nil {
			team := *node.Team
			out.Nodes[i].Team = &team
		}
	}
	return out
}
