package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/model"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Logger defaults to a NoOp logger.
	Logger logging.Logger
}

// Registry holds tools by name and executes model-requested calls. It is safe
// for concurrent use. *Registry satisfies executor.ToolCaller.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logging.ForComponent(logging.OrNoOp(opts.Logger), "tool"),
	}
}

// Register adds tools, rejecting empty and duplicate names. Nothing is added
// when any tool is rejected.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return core.NewError(core.KindInvalidDefinition, "tool.register", "tool name is required")
		}
		if _, ok := r.tools[name]; ok {
			return core.NewError(core.KindInvalidDefinition, "tool.register", "tool %q already registered", name)
		}
		if _, ok := seen[name]; ok {
			return core.NewError(core.KindInvalidDefinition, "tool.register", "tool %q registered twice", name)
		}
		seen[name] = struct{}{}
	}

	for _, t := range tools {
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Definitions returns the model declarations of every tool keyed by name.
func (r *Registry) Definitions() map[string]model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make(map[string]model.ToolDefinition, len(r.tools))
	for name, t := range r.tools {
		defs[name] = Definition(t)
	}
	return defs
}

// CallTool decodes the call's JSON arguments, runs the named tool and reports
// the outcome as a response correlated with the call id. It never fails: an
// unknown tool, undecodable arguments or a tool error end up in
// FunctionResponse.Error so the model can react to them.
func (r *Registry) CallTool(ctx context.Context, call core.FunctionCall) core.FunctionResponse {
	resp := core.FunctionResponse{ID: call.ID, Name: call.Name}
	start := time.Now()

	t, ok := r.Get(call.Name)
	if !ok {
		resp.Error = NewToolError(call.Name, "tool not found", CodeNotFound).Error()
		r.logger.Warn("tool.call.not_found", "tool", call.Name, "fc_id", call.ID)
		return resp
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			resp.Error = NewToolError(call.Name, fmt.Sprintf("decode arguments: %v", err), CodeArguments).Error()
			r.logger.Warn("tool.call.invalid_arguments", "tool", call.Name, "fc_id", call.ID, "error", err.Error())
			return resp
		}
	}

	r.logger.Debug("tool.call.start", "tool", call.Name, "fc_id", call.ID)

	result, err := t.Call(ctx, args)
	if err != nil {
		resp.Error = err.Error()
		r.logger.Warn("tool.call.error", "tool", call.Name, "fc_id", call.ID, "error", err.Error())
		return resp
	}

	resp.Response = result
	r.logger.Info("tool.call.success", "tool", call.Name, "fc_id", call.ID, "duration_ms", time.Since(start).Milliseconds())
	return resp
}
