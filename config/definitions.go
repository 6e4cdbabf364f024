package config

import (
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/loop"
	"github.com/hupe1980/agentflow/workflow"
)

// Definitions is the content of a definitions file: agents to register plus
// named workflows and loops referencing them.
type Definitions struct {
	Agents    []core.AgentDefinition     `yaml:"agents"`
	Workflows map[string]workflow.Config `yaml:"workflows"`
	Loops     map[string]LoopDefinition  `yaml:"loops"`
}

// LoopDefinition is a loop over Agent. Stop conditions are declared through
// the stop_* fields and combined with loop.AnyOf.
type LoopDefinition struct {
	Agent       string `yaml:"agent"`
	loop.Config `yaml:",inline"`

	StopKeywords    []string `yaml:"stop_keywords"`
	StopAfter       int      `yaml:"stop_after"`
	StabilityWindow int      `yaml:"stability_window"`
	ErrorThreshold  int      `yaml:"error_threshold"`
}

// LoopConfig returns the loop configuration with its declared stop
// conditions attached.
func (d LoopDefinition) LoopConfig() loop.Config {
	cfg := d.Config

	var conds []loop.StopCondition
	if len(d.StopKeywords) > 0 {
		conds = append(conds, loop.KeywordStopCondition(d.StopKeywords...))
	}
	if d.StopAfter > 0 {
		conds = append(conds, loop.IterationStopCondition(d.StopAfter))
	}
	if d.StabilityWindow > 0 {
		conds = append(conds, loop.StabilityStopCondition(d.StabilityWindow))
	}
	if d.ErrorThreshold > 0 {
		conds = append(conds, loop.ErrorThresholdStopCondition(d.ErrorThreshold))
	}
	if len(conds) > 0 {
		cfg.StopWhen = loop.AnyOf(conds...)
	}
	return cfg
}

// LoadDefinitions decodes a definitions document from r and checks that every
// workflow and loop references a declared agent.
func LoadDefinitions(r io.Reader) (*Definitions, error) {
	const op = "config.definitions"

	var defs Definitions
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && err != io.EOF {
		return nil, core.WrapError(core.KindInvalidConfig, op, err)
	}

	ids := make([]string, 0, len(defs.Agents))
	for _, a := range defs.Agents {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if slices.Contains(ids, a.ID) {
			return nil, core.NewError(core.KindDuplicateAgent, op, "agent %q declared twice", a.ID)
		}
		ids = append(ids, a.ID)
	}

	for name, wf := range defs.Workflows {
		if wf.Name == "" {
			wf.Name = name
			defs.Workflows[name] = wf
		}
		if err := wf.Validate(); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", name, err)
		}
		for _, id := range wf.Agents {
			if !slices.Contains(ids, id) {
				return nil, core.NewError(core.KindAgentNotFound, op, "workflow %q references unknown agent %q", name, id)
			}
		}
	}

	for name, l := range defs.Loops {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("loop %q: %w", name, err)
		}
		if !slices.Contains(ids, l.Agent) {
			return nil, core.NewError(core.KindAgentNotFound, op, "loop %q references unknown agent %q", name, l.Agent)
		}
	}

	return &defs, nil
}

// LoadDefinitionsFile reads a definitions file from path.
func LoadDefinitionsFile(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError(core.KindInvalidConfig, "config.definitions", err)
	}
	defer f.Close()
	return LoadDefinitions(f)
}
