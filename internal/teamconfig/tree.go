package teamconfig

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/zhattention/agent-studio/internal/models"
)

// LoadTree reads name and, recursively, every team named by an agent's
// team_call, inlining each as that agent's team_cfg. A reference to a team
// that is missing fails the whole load. A reference back to a team on the
// current path is left as a bare team_call.
func (s *FileStore) LoadTree(name string) (*models.TeamSpec, error) {
	return s.loadTree(name, map[string]bool{})
}

func (s *FileStore) loadTree(name string, ancestors map[string]bool) (*models.TeamSpec, error) {
	spec, err := s.ReadConfig(name)
	if err != nil {
		return nil, err
	}

	ancestors[name] = true
	defer delete(ancestors, name)

	for i := range spec.Agents {
		agent := &spec.Agents[i]
		if agent.TeamCall == "" {
			continue
		}
		if ancestors[agent.TeamCall] {
			s.logger.Warn("team_call refers to an enclosing team, not inlined",
				slog.String("team", name),
				slog.String("agent", agent.Name),
				slog.String("team_call", agent.TeamCall),
			)
			continue
		}
		sub, err := s.loadTree(agent.TeamCall, ancestors)
		if err != nil {
			return nil, fmt.Errorf("team %q: agent %q: %w", name, agent.Name, err)
		}
		agent.TeamCfg = sub
	}
	return spec, nil
}

// SaveTree splits a composed team into stored documents and writes them,
// sub-teams before the teams that call them. Each inlined team_cfg becomes
// its own document named by the agent's team_call, and the agent keeps only
// the reference. Nothing is written unless every document is valid. It
// returns the names written, in order.
func (s *FileStore) SaveTree(root *models.TeamSpec) ([]string, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: team is nil", models.ErrInvalidConfig)
	}

	tree := root.Clone()
	alignNames(tree)
	if err := tree.ValidateForSave(); err != nil {
		return nil, err
	}

	var docs []*models.TeamSpec
	index := make(map[string]*models.TeamSpec)
	if err := flatten(tree, &docs, index); err != nil {
		return nil, err
	}

	for _, doc := range docs {
		if _, err := s.encode(doc.Name, doc); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		if err := s.WriteConfig(doc.Name, doc); err != nil {
			return names, err
		}
		names = append(names, doc.Name)
	}

	s.logger.Info("team saved", slog.String("team", root.Name), slog.Any("documents", names))
	return names, nil
}

// alignNames makes every inlined team carry the name its caller uses.
func alignNames(team *models.TeamSpec) {
	for i := range team.Agents {
		agent := &team.Agents[i]
		if agent.TeamCfg == nil {
			continue
		}
		if agent.TeamCall == "" {
			agent.TeamCall = agent.TeamCfg.Name
		} else {
			agent.TeamCfg.Name = agent.TeamCall
		}
		alignNames(agent.TeamCfg)
	}
}

// flatten appends the stored form of team and its sub-teams to docs in
// post-order. The same name may appear more than once only with identical
// content.
func flatten(team *models.TeamSpec, docs *[]*models.TeamSpec, index map[string]*models.TeamSpec) error {
	doc := &models.TeamSpec{
		TeamHeader: team.TeamHeader,
		Agents:     make([]models.AgentSpec, len(team.Agents)),
	}
	for i, agent := range team.Agents {
		if agent.TeamCfg != nil {
			if err := flatten(agent.TeamCfg, docs, index); err != nil {
				return err
			}
		}
		doc.Agents[i] = agent
		doc.Agents[i].TeamCfg = nil
	}

	if prev, ok := index[doc.Name]; ok {
		if !reflect.DeepEqual(prev, doc) {
			return fmt.Errorf("%w: two different teams named %q", models.ErrInvalidConfig, doc.Name)
		}
		return nil
	}
	index[doc.Name] = doc
	*docs = append(*docs, doc)
	return nil
}
