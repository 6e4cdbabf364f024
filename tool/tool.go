// Package tool implements function tools that agents may invoke. A Registry
// holds the tools, exposes their declarations to the model and executes the
// calls the model requests, turning every outcome (success, validation
// failure, handler error, unknown tool) into a core.FunctionResponse that can
// be replayed to the provider on the next step.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/model"
)

// Tool is a callable capability exposed to models.
type Tool interface {
	// Name is the identifier agents list in their tool set and models use in
	// function calls.
	Name() string
	// Description tells the model when to use the tool.
	Description() string
	// Parameters is the JSON schema of the accepted arguments.
	Parameters() map[string]any
	// Call runs the tool with arguments decoded from the model's call.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeArguments  = "INVALID_ARGUMENTS"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Definition converts t into the declaration sent to the model.
func Definition(t Tool) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
