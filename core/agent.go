package core

import (
	"slices"
	"strings"
)

// Provider identifies the vendor a model call is routed to.
type Provider string

const (
	// ProviderOpenAI routes to the OpenAI Chat Completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic routes to the Anthropic Messages API.
	ProviderAnthropic Provider = "anthropic"
	// ProviderCustom routes to a caller supplied endpoint.
	ProviderCustom Provider = "custom"
)

// ModelConfig holds the model parameters an agent is invoked with.
type ModelConfig struct {
	Provider    Provider `json:"provider" yaml:"provider"`
	Model       string   `json:"model" yaml:"model"`
	Temperature float64  `json:"temperature" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`
}

// AgentDefinition is the immutable configuration of an agent: its identity,
// system prompt, model parameters, declared tools and discovery tags.
type AgentDefinition struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description,omitempty" yaml:"description"`
	SystemPrompt string       `json:"system_prompt" yaml:"system_prompt"`
	Model        *ModelConfig `json:"model,omitempty" yaml:"model"`
	Tools        []string     `json:"tools,omitempty" yaml:"tools"`
	Capabilities []string     `json:"capabilities,omitempty" yaml:"capabilities"`
}

// Validate checks the registration invariants and returns a
// KindInvalidDefinition error describing the first violation.
func (d AgentDefinition) Validate() error {
	const op = "agent.validate"

	switch {
	case strings.TrimSpace(d.ID) == "":
		return NewError(KindInvalidDefinition, op, "agent id is required")
	case strings.TrimSpace(d.Name) == "":
		return NewError(KindInvalidDefinition, op, "agent %q: name is required", d.ID)
	case strings.TrimSpace(d.SystemPrompt) == "":
		return NewError(KindInvalidDefinition, op, "agent %q: system prompt is required", d.ID)
	}

	if d.Model != nil {
		if d.Model.Temperature < 0 || d.Model.Temperature > 2 {
			return NewError(KindInvalidDefinition, op, "agent %q: temperature %.2f outside [0,2]", d.ID, d.Model.Temperature)
		}
		if d.Model.MaxTokens <= 0 {
			return NewError(KindInvalidDefinition, op, "agent %q: max tokens must be positive, got %d", d.ID, d.Model.MaxTokens)
		}
	}

	return nil
}

// ToolsEnabled reports whether the agent declares any tools.
func (d AgentDefinition) ToolsEnabled() bool { return len(d.Tools) > 0 }

// HasCapability reports whether the agent is tagged with tag.
func (d AgentDefinition) HasCapability(tag string) bool {
	return slices.Contains(d.Capabilities, tag)
}

// Clone returns a deep copy so callers cannot mutate registered definitions.
func (d AgentDefinition) Clone() AgentDefinition {
	c := d
	if d.Model != nil {
		m := *d.Model
		c.Model = &m
	}
	c.Tools = slices.Clone(d.Tools)
	c.Capabilities = slices.Clone(d.Capabilities)
	return c
}
