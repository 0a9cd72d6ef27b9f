package graph

import (
	"fmt"
	"log/slog"

	"github.com/zhattention/agent-studio/internal/models"
)

// Prefix and model of the synthetic agent created for a team -> team edge.
const (
	virtualAgentPrefix = "team_agent_"
	virtualAgentModel  = "virtual"
)

// Contractor rebuilds team documents from a canvas graph.
//
// Ambiguities never fail a contraction. Where an agent has several outgoing
// agent edges the first in edge order is its chain successor; the others are
// appended to the team after the primary chain in the order they were found.
// Each case is logged at warn level.
type Contractor struct {
	logger *slog.Logger
}

func NewContractor(logger *slog.Logger) *Contractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Contractor{logger: logger}
}

// Contract builds the team rooted at team node rootID. Sub-teams reached by
// delegation edges are inlined as team_cfg; a team already contracted in
// this call is referenced by team_call only. Agents at the root level that
// cannot be reached from any team node are appended to the root team.
func (c *Contractor) Contract(rootID string, g *models.CanvasGraph) (*models.TeamSpec, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: no graph", ErrMissingNode)
	}

	w, err := newWalk(g, c.logger)
	if err != nil {
		return nil, err
	}

	root, ok := w.nodes[rootID]
	if !ok {
		return nil, fmt.Errorf("%w: root %q", ErrMissingNode, rootID)
	}
	if root.Kind != models.NodeTeam || root.Team == nil {
		return nil, fmt.Errorf("%w: root %q is not a team node", ErrMissingNode, rootID)
	}

	team, err := w.team(root, true)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("contracted team",
		slog.String("team", team.Name),
		slog.Int("agents", len(team.Agents)),
	)
	return team, nil
}

// Contract runs a Contractor using the default logger.
func Contract(rootID string, g *models.CanvasGraph) (*models.TeamSpec, error) {
	return NewContractor(nil).Contract(rootID, g)
}

// walk is the state of one contraction.
type walk struct {
	g      *models.CanvasGraph
	logger *slog.Logger

	nodes map[string]*models.GraphNode
	out   map[string][]string // targets in edge order
	in    map[string]int

	// contracted holds team node ids already turned into a TeamSpec, active
	// the ones on the current delegation path.
	contracted map[string]bool
	active     map[string]bool
	// placed holds agent node ids already emitted into some agent list.
	placed map[string]bool
}

func newWalk(g *models.CanvasGraph, logger *slog.Logger) (*walk, error) {
	w := &walk{
		g:          g,
		logger:     logger,
		nodes:      make(map[string]*models.GraphNode, len(g.Nodes)),
		out:        make(map[string][]string),
		in:         make(map[string]int),
		contracted: make(map[string]bool),
		active:     make(map[string]bool),
		placed:     make(map[string]bool),
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if _, dup := w.nodes[node.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrMalformedGraph, node.ID)
		}
		switch {
		case node.Kind == models.NodeAgent && node.Agent != nil:
		case node.Kind == models.NodeTeam && node.Team != nil:
		default:
			return nil, fmt.Errorf("%w: node %q has no %s data", ErrMalformedGraph, node.ID, node.Kind)
		}
		w.nodes[node.ID] = node
	}

	for _, edge := range g.Edges {
		if _, ok := w.nodes[edge.Source]; !ok {
			return nil, fmt.Errorf("%w: edge %q references unknown source %q", ErrMissingNode, edge.ID, edge.Source)
		}
		if _, ok := w.nodes[edge.Target]; !ok {
			return nil, fmt.Errorf("%w: edge %q references unknown target %q", ErrMissingNode, edge.ID, edge.Target)
		}
		w.out[edge.Source] = append(w.out[edge.Source], edge.Target)
		w.in[edge.Target]++
	}
	return w, nil
}

func (w *walk) team(node *models.GraphNode, root bool) (*models.TeamSpec, error) {
	w.contracted[node.ID] = true
	w.active[node.ID] = true
	defer delete(w.active, node.ID)

	spec := &models.TeamSpec{
		TeamHeader: node.Team.TeamHeader,
		Agents:     make([]models.AgentSpec, 0),
	}

	var entries, direct []string
	for _, target := range w.out[node.ID] {
		switch w.nodes[target].Kind {
		case models.NodeAgent:
			entries = append(entries, target)
		case models.NodeTeam:
			direct = append(direct, target)
		}
	}
	if len(entries) > 1 {
		w.logger.Warn("team has several entry agents, extra chains appended",
			slog.String("team", spec.Name),
			slog.Int("entries", len(entries)),
		)
	}

	if err := w.drain(spec, entries); err != nil {
		return nil, err
	}

	for _, target := range direct {
		if err := w.directTeam(spec, w.nodes[target]); err != nil {
			return nil, err
		}
	}

	if root {
		if err := w.orphans(spec); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// drain walks every chain in queue, appending agents to spec. Branches found
// along the way are queued behind the current ones.
func (w *walk) drain(spec *models.TeamSpec, queue []string) error {
	for len(queue) > 0 {
		start := queue[0]
		queue = queue[1:]

		for id := start; id != "" && !w.placed[id]; {
			w.placed[id] = true
			agent, next, branches, err := w.agent(w.nodes[id])
			if err != nil {
				return err
			}
			spec.Agents = append(spec.Agents, agent)
			queue = append(queue, branches...)
			id = next
		}
	}
	return nil
}

// agent converts one agent node. It returns the chain successor, if any, and
// any further agent targets.
func (w *walk) agent(node *models.GraphNode) (models.AgentSpec, string, []string, error) {
	agent := node.Agent.AgentSpec.Clone()
	agent.TeamCfg = nil

	var agents, teams []string
	for _, target := range w.out[node.ID] {
		switch w.nodes[target].Kind {
		case models.NodeAgent:
			agents = append(agents, target)
		case models.NodeTeam:
			teams = append(teams, target)
		}
	}

	if len(teams) > 0 {
		if len(teams) > 1 {
			w.logger.Warn("agent delegates to several teams, using the first",
				slog.String("agent", agent.Name),
				slog.String("team", w.nodes[teams[0]].Team.Name),
			)
		}
		sub, err := w.delegate(w.nodes[teams[0]], agent.Name)
		if err != nil {
			return agent, "", nil, err
		}
		agent.TeamCall = w.nodes[teams[0]].Team.Name
		agent.TeamCfg = sub
	}

	if len(agents) == 0 {
		return agent, "", nil, nil
	}
	if len(agents) > 1 {
		w.logger.Warn("agent has several successors, extra chains appended",
			slog.String("agent", agent.Name),
			slog.Int("successors", len(agents)),
		)
	}
	return agent, agents[0], agents[1:], nil
}

// delegate contracts the team behind a delegation edge, or returns nil when
// it has already been contracted in this walk.
func (w *walk) delegate(target *models.GraphNode, from string) (*models.TeamSpec, error) {
	switch {
	case w.active[target.ID]:
		w.logger.Warn("delegation back into an enclosing team, referenced by name",
			slog.String("agent", from),
			slog.String("team", target.Team.Name),
			slog.Any("error", ErrCyclicDelegation),
		)
		return nil, nil
	case w.contracted[target.ID]:
		w.logger.Warn("team already contracted, referenced by name",
			slog.String("agent", from),
			slog.String("team", target.Team.Name),
		)
		return nil, nil
	}
	return w.team(target, false)
}

// directTeam handles a team -> team edge by adding a virtual agent that calls
// the target team, unless an agent of spec already does.
func (w *walk) directTeam(spec *models.TeamSpec, target *models.GraphNode) error {
	for _, agent := range spec.Agents {
		if agent.TeamCall == target.Team.Name {
			return nil
		}
	}

	name := virtualAgentPrefix + target.Team.Name
	sub, err := w.delegate(target, name)
	if err != nil {
		return err
	}
	spec.Agents = append(spec.Agents, models.AgentSpec{
		Name:     name,
		Model:    virtualAgentModel,
		Tools:    []string{},
		TeamCall: target.Team.Name,
		TeamCfg:  sub,
	})
	return nil
}

// orphans appends the agents that no team node reaches. Chain heads without
// incoming edges go first, in node order, then whatever is left over (agents
// that only form cycles among themselves).
func (w *walk) orphans(spec *models.TeamSpec) error {
	reachable := w.reachableFromTeams()

	var heads, rest []string
	for _, node := range w.g.Nodes {
		if node.Kind != models.NodeAgent || reachable[node.ID] || w.placed[node.ID] {
			continue
		}
		if w.in[node.ID] == 0 {
			heads = append(heads, node.ID)
		} else {
			rest = append(rest, node.ID)
		}
	}
	if len(heads)+len(rest) == 0 {
		return nil
	}

	w.logger.Warn("agents not attached to any team, appended to root",
		slog.String("team", spec.Name),
		slog.Int("heads", len(heads)),
	)
	if err := w.drain(spec, heads); err != nil {
		return err
	}
	return w.drain(spec, rest)
}

func (w *walk) reachableFromTeams() map[string]bool {
	seen := make(map[string]bool)
	var stack []string
	for _, node := range w.g.Nodes {
		if node.Kind == models.NodeTeam {
			seen[node.ID] = true
			stack = append(stack, node.ID)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, target := range w.out[id] {
			if !seen[target] {
				seen[target] = true
				stack = append(stack, target)
			}
		}
	}
	return seen
}
