package core

import (
	"maps"
	"slices"
	"time"
)

// AgentContext is the conversational input handed to a single agent
// invocation. Values are treated as immutable: the With* helpers return new
// contexts, and orchestration layers give every concurrent agent its own clone.
type AgentContext struct {
	ConversationID   string
	Messages         []Message
	SharedData       map[string]any
	MaxSteps         int           // 0 selects the executor default
	Timeout          time.Duration // 0 selects the executor default
	StructuredOutput bool
}

// NewAgentContext creates a context holding a single user message.
func NewAgentContext(input string) AgentContext {
	return AgentContext{
		ConversationID: NewID(),
		Messages:       []Message{NewUserMessage(input)},
		SharedData:     map[string]any{},
	}
}

// Clone copies the message slice and shared data map so the clone can be
// extended without affecting the receiver. Values stored in SharedData are
// not deep-copied.
func (c AgentContext) Clone() AgentContext {
	out := c
	out.Messages = slices.Clone(c.Messages)
	out.SharedData = maps.Clone(c.SharedData)
	if out.SharedData == nil {
		out.SharedData = map[string]any{}
	}
	return out
}

// WithMessages returns a clone with msgs appended.
func (c AgentContext) WithMessages(msgs ...Message) AgentContext {
	out := c.Clone()
	out.Messages = append(out.Messages, msgs...)
	return out
}

// WithSharedData returns a clone with key set to value.
func (c AgentContext) WithSharedData(key string, value any) AgentContext {
	out := c.Clone()
	out.SharedData[key] = value
	return out
}

// LastMessageText returns the text of the most recent message.
func (c AgentContext) LastMessageText() string { return LastText(c.Messages) }
