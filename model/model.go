package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
)

// FinishReason reports why a single model step ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool-calls"
	FinishError     FinishReason = "error"
	FinishLength    FinishReason = "length"
	FinishOther     FinishReason = "other"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// NewFunctionTool declares a function tool whose parameter schema is derived
// from the struct args (see the json, description and enum field tags).
//
//	type weatherArgs struct {
//	    City string `json:"city" description:"city name"`
//	}
//	tool := model.NewFunctionTool("get_weather", "Current weather for a city", weatherArgs{})
func NewFunctionTool(name, description string, args any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  util.ObjectSchema(args),
		},
	}
}

// Request captures one single-step model call. Messages holds the complete
// outbound conversation: an optional leading system message, history, and the
// assistant/tool turns accumulated by earlier steps of the same invocation.
type Request struct {
	ConversationID string
	Messages       []core.Message
	Model          *core.ModelConfig
	ToolsEnabled   bool
	Tools          []ToolDefinition
	MaxSteps       int
}

// Response is the result of one model step.
type Response struct {
	Message      core.Message
	Usage        *core.TokenUsage
	FinishReason FinishReason
}

// ChatService is the model-invocation collaborator consumed by the executor.
// Implementations must honour ctx cancellation.
type ChatService interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// ChatServiceFunc adapts an ordinary function to ChatService.
type ChatServiceFunc func(ctx context.Context, req Request) (*Response, error)

// Send calls f(ctx, req).
func (f ChatServiceFunc) Send(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// SystemText returns the text of the leading system message, if any.
func (r Request) SystemText() string {
	if len(r.Messages) > 0 && r.Messages[0].Role == core.RoleSystem {
		return r.Messages[0].Text()
	}
	return ""
}

// LastUserText returns the text of the last user message.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == core.RoleUser {
			return r.Messages[i].Text()
		}
	}
	return ""
}

// ResponseText renders a tool response payload for providers that accept
// tool results as text: strings pass through, other values are JSON encoded.
func ResponseText(fr core.FunctionResponse) string {
	switch v := fr.Response.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(fr.Response)
	if err != nil {
		return fmt.Sprintf("%v", fr.Response)
	}
	return string(b)
}
