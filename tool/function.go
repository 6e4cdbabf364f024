package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentflow/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool. Arguments are validated
// against the declared schema before the function runs. A FunctionTool has no
// mutable state and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema.
//
//	sum := tool.NewFunctionTool("calculate_sum", "Add two numbers",
//	    map[string]any{
//	        "type": "object",
//	        "properties": map[string]any{
//	            "a": map[string]any{"type": "number"},
//	            "b": map[string]any{"type": "number"},
//	        },
//	        "required": []string{"a", "b"},
//	    },
//	    func(ctx context.Context, args map[string]any) (any, error) {
//	        return args["a"].(float64) + args["b"].(float64), nil
//	    },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn func(ctx context.Context, args map[string]any) (any, error)) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the parameter schema from the struct args
// (json, description and enum tags).
func NewFunctionToolFromStruct(name, description string, args any, fn func(ctx context.Context, args map[string]any) (any, error)) *FunctionTool {
	return NewFunctionTool(name, description, util.ObjectSchema(args), fn)
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema of the arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args and invokes the function. Validation failures yield a
// *ToolError with CodeValidation; other errors are wrapped with
// CodeExecution unless the function already returned a *ToolError.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateArguments(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}
	return result, nil
}
