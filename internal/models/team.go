package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig marks a malformed team document.
var ErrInvalidConfig = errors.New("invalid config")

type TeamType string

const (
	TeamTypeRoundRobin TeamType = "round_robin"
	TeamTypeTree       TeamType = "tree"
	TeamTypeParallel   TeamType = "parallel"
)

// Duration values with special meaning. Any positive value is the number of
// seconds between runs.
const (
	DurationSingleRun  = 0
	DurationContinuous = -1
)

// TeamHeader holds every team field except the agent list. Team nodes on the
// canvas carry exactly this.
type TeamHeader struct {
	Name       string   `json:"name" yaml:"name"`
	TeamType   TeamType `json:"team_type" yaml:"team_type"`
	TeamPrompt string   `json:"team_prompt" yaml:"team_prompt"`
	Duration   int      `json:"duration" yaml:"duration"`

	MaxTurn            int    `json:"max_turn,omitempty" yaml:"max_turn,omitempty"`
	MaxDuration        int    `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
	TerminateKeyword   string `json:"terminate_keyword,omitempty" yaml:"terminate_keyword,omitempty"`
	PrintMessageThread bool   `json:"print_message_thread,omitempty" yaml:"print_message_thread,omitempty"`
}

// TeamSpec is the unit of persistence: one team and its agents in chain order.
type TeamSpec struct {
	TeamHeader `yaml:",inline"`
	Agents     []AgentSpec `json:"agents" yaml:"agents"`
}

type AgentSpec struct {
	Name             string     `json:"name" yaml:"name"`
	Model            string     `json:"model" yaml:"model"`
	ModelInfo        *ModelInfo `json:"model_info,omitempty" yaml:"model_info,omitempty"`
	Tools            []string   `json:"tools" yaml:"tools"`
	Prompt           string     `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	TransitionPrompt string     `json:"transition_prompt,omitempty" yaml:"transition_prompt,omitempty"`

	// TeamCall names the sub-team this agent hands its output to.
	TeamCall    string `json:"team_call,omitempty" yaml:"team_call,omitempty"`
	TeamCallTag string `json:"team_call_tag,omitempty" yaml:"team_call_tag,omitempty"`
	// TeamCfg is the inlined sub-team. It only exists between load and
	// expand, or between contract and save; stored documents never carry it.
	TeamCfg     *TeamSpec `json:"team_cfg,omitempty" yaml:"team_cfg,omitempty"`
	FullMessage bool      `json:"full_message,omitempty" yaml:"full_message,omitempty"`

	MustTool      bool                     `json:"must_tool,omitempty" yaml:"must_tool,omitempty"`
	ForceToolCall string                   `json:"force_tool_call,omitempty" yaml:"force_tool_call,omitempty"`
	ForceToolArgs map[string]ToolCallParam `json:"force_tool_args,omitempty" yaml:"force_tool_args,omitempty"`
}

type ModelInfo struct {
	Vision           bool   `json:"vision,omitempty" yaml:"vision,omitempty"`
	FunctionCalling  bool   `json:"function_calling,omitempty" yaml:"function_calling,omitempty"`
	JSONOutput       bool   `json:"json_output,omitempty" yaml:"json_output,omitempty"`
	Family           string `json:"family,omitempty" yaml:"family,omitempty"`
	StructuredOutput bool   `json:"structured_output,omitempty" yaml:"structured_output,omitempty"`
}

// ToolCallParam is one argument of a forced tool call. Type is one of
// "value", "history_grab" or "xml_grab".
type ToolCallParam struct {
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value" yaml:"value"`
}

func (t TeamType) Valid() bool {
	switch t {
	case TeamTypeRoundRobin, TeamTypeTree, TeamTypeParallel:
		return true
	}
	return false
}

// Validate checks the structure of t and every inlined sub-team.
func (t *TeamSpec) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: team is nil", ErrInvalidConfig)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: team name is required", ErrInvalidConfig)
	}
	if t.Agents == nil {
		return fmt.Errorf("%w: team %q: agents must be a list", ErrInvalidConfig, t.Name)
	}
	if t.TeamType != "" && !t.TeamType.Valid() {
		return fmt.Errorf("%w: team %q: unknown team_type %q", ErrInvalidConfig, t.Name, t.TeamType)
	}
	if t.Duration < DurationContinuous {
		return fmt.Errorf("%w: team %q: duration must be >= -1", ErrInvalidConfig, t.Name)
	}

	for i, agent := range t.Agents {
		if strings.TrimSpace(agent.Name) == "" {
			return fmt.Errorf("%w: team %q: agent %d has no name", ErrInvalidConfig, t.Name, i)
		}
		if agent.TeamCfg == nil {
			continue
		}
		if agent.TeamCall != "" && agent.TeamCfg.Name != agent.TeamCall {
			return fmt.Errorf("%w: team %q: agent %q calls %q but inlines team %q",
				ErrInvalidConfig, t.Name, agent.Name, agent.TeamCall, agent.TeamCfg.Name)
		}
		if err := agent.TeamCfg.Validate(); err != nil {
			return fmt.Errorf("team %q: agent %q: %w", t.Name, agent.Name, err)
		}
	}
	return nil
}

// ValidateForSave adds the save-time rules to Validate: agent names are unique
// within each team.
func (t *TeamSpec) ValidateForSave() error {
	if err := t.Validate(); err != nil {
		return err
	}
	return t.checkUniqueNames()
}

func (t *TeamSpec) checkUniqueNames() error {
	seen := make(map[string]bool, len(t.Agents))
	for _, agent := range t.Agents {
		if seen[agent.Name] {
			return fmt.Errorf("%w: team %q: duplicate agent name %q", ErrInvalidConfig, t.Name, agent.Name)
		}
		seen[agent.Name] = true
		if agent.TeamCfg != nil {
			if err := agent.TeamCfg.checkUniqueNames(); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasInlinedTeams reports whether any agent still carries a team_cfg.
func (t *TeamSpec) HasInlinedTeams() bool {
	for _, agent := range t.Agents {
		if agent.TeamCfg != nil {
			return true
		}
	}
	return false
}

func (t *TeamSpec) Clone() *TeamSpec {
	if t == nil {
		return nil
	}
	out := &TeamSpec{TeamHeader: t.TeamHeader}
	if t.Agents != nil {
		out.Agents = make([]AgentSpec, len(t.Agents))
		for i, agent := range t.Agents {
			out.Agents[i] = agent.Clone()
		}
	}
	return out
}

func (a AgentSpec) Clone() AgentSpec {
	out := a
	if a.Tools != nil {
		out.Tools = append([]string(nil), a.Tools...)
	}
	if a.ModelInfo != nil {
		info := *a.ModelInfo
		out.ModelInfo = &info
	}
	if a.ForceToolArgs != nil {
		out.ForceToolArgs = make(map[string]ToolCallParam, len(a.ForceToolArgs))
		for k, v := range a.ForceToolArgs {
			out.ForceToolArgs[k] = v
		}
	}
	out.TeamCfg = a.TeamCfg.Clone()
	return out
}
