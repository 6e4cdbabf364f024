// Package executor drives a single agent through a bounded step loop against a
// model.ChatService.
//
// Every invocation races three outcomes: the step loop itself, a timeout and
// the caller's context. The first to settle determines the result; the losing
// work is preempted by cancelling its context and its late result is dropped.
// Execute never panics and never returns an error: every failure mode is
// reported as a core.AgentExecutionResult with Error populated.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/metrics"
	"github.com/hupe1980/agentflow/model"
)

const (
	// DefaultTimeout bounds an invocation when neither the call nor the
	// context specify a timeout.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxSteps bounds the step loop when the context leaves it unset.
	DefaultMaxSteps = 10

	tracerName = "github.com/hupe1980/agentflow/executor"
)

// Options configures an Executor.
type Options struct {
	DefaultTimeout  time.Duration
	DefaultMaxSteps int
	Logger          logging.Logger
	Tracer          trace.Tracer
	Metrics         *metrics.Metrics
	// Tools resolves the tool names declared by agents into definitions
	// forwarded to the model. Unknown names are skipped.
	Tools map[string]model.ToolDefinition
	// ToolCaller answers the tool calls of a tool-calls step. Without it, or
	// for tools the agent does not declare, every call is answered with an
	// error response so the conversation stays valid for the provider.
	ToolCaller ToolCaller
}

// ToolCaller executes a tool call requested by the model. *tool.Registry
// satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, call core.FunctionCall) core.FunctionResponse
}

// ExecuteOptions tunes a single invocation.
type ExecuteOptions struct {
	// Timeout overrides AgentContext.Timeout and the executor default.
	Timeout time.Duration
	// OnStep is called after every model step with (stepsTaken, maxSteps).
	OnStep func(step, maxSteps int)
	// Limiter caps model calls across every invocation sharing it.
	Limiter *core.ModelLimiter
}

// Executor runs agents. It is safe for concurrent use.
type Executor struct {
	chat model.ChatService
	opts Options
}

// New creates an executor calling chat for every model step.
func New(chat model.ChatService, optFns ...func(o *Options)) *Executor {
	opts := Options{
		DefaultTimeout:  DefaultTimeout,
		DefaultMaxSteps: DefaultMaxSteps,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.DefaultMaxSteps <= 0 {
		opts.DefaultMaxSteps = DefaultMaxSteps
	}
	opts.Logger = logging.ForComponent(logging.OrNoOp(opts.Logger), "executor")
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Executor{chat: chat, opts: opts}
}

// Execute runs agent against actx. ctx is the cancellation signal: if it is
// already done the model is never called.
func (e *Executor) Execute(ctx context.Context, agent core.AgentDefinition, actx core.AgentContext, opts ExecuteOptions) core.AgentExecutionResult {
	const op = "executor.execute"

	started := time.Now()
	ctx, span := e.opts.Tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.id", agent.ID),
		attribute.String("conversation.id", actx.ConversationID),
	))
	defer span.End()

	if ctx.Err() != nil {
		res := core.FailedResult(agent.ID, core.ContextError(op, ctx), started)
		e.finish(span, res)
		return res
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = actx.Timeout
	}
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}

	e.opts.Logger.Debug("executor.execute.start", "agent_id", agent.ID, "timeout", timeout)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	done := make(chan core.AgentExecutionResult, 1)
	go func() {
		done <- e.run(workCtx, agent, actx, opts, started)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res core.AgentExecutionResult
	select {
	case res = <-done:
	case <-timer.C:
		cancelWork()
		res = core.FailedResult(agent.ID, core.NewError(core.KindTimeout, op, "agent %q timed out after %s", agent.ID, timeout), started)
	case <-ctx.Done():
		cancelWork()
		res = core.FailedResult(agent.ID, core.ContextError(op, ctx), started)
	}

	e.finish(span, res)
	return res
}

func (e *Executor) finish(span trace.Span, res core.AgentExecutionResult) {
	span.SetAttributes(
		attribute.String("agent.finish_reason", string(res.FinishReason)),
		attribute.Int("agent.steps", res.Metadata.Steps),
		attribute.Int("agent.tokens", res.Metadata.Usage.TotalTokens),
	)
	if res.Failed() {
		span.SetStatus(codes.Error, res.Error)
		e.opts.Logger.Warn("executor.execute.failed",
			"agent_id", res.AgentID,
			"finish_reason", res.FinishReason,
			"error_kind", res.ErrorKind.String(),
			"error", res.Error,
			"duration", res.Metadata.ExecutionTime,
		)
	} else {
		span.SetStatus(codes.Ok, "")
		e.opts.Logger.Info("executor.execute.finish",
			"agent_id", res.AgentID,
			"finish_reason", res.FinishReason,
			"steps", res.Metadata.Steps,
			"tokens", res.Metadata.Usage.TotalTokens,
			"duration", res.Metadata.ExecutionTime,
		)
	}
	e.opts.Metrics.RecordAgentExecution(res)
}

// run is the step loop. It converts panics of the collaborator into results.
func (e *Executor) run(ctx context.Context, agent core.AgentDefinition, actx core.AgentContext, opts ExecuteOptions, started time.Time) (res core.AgentExecutionResult) {
	const op = "executor.step"

	var (
		produced []core.Message
		meta     core.ExecutionMetadata
	)

	fail := func(err error) core.AgentExecutionResult {
		r := core.FailedResult(agent.ID, err, started)
		r.Messages = produced
		meta.ExecutionTime = r.Metadata.ExecutionTime
		r.Metadata = meta
		return r
	}

	defer func() {
		if p := recover(); p != nil {
			e.opts.Logger.Error("executor.execute.panic", "agent_id", agent.ID, "panic", p, "stack", string(debug.Stack()))
			res = fail(core.NewError(core.KindExecution, op, "agent %q: recovered panic: %v", agent.ID, p))
		}
	}()

	maxSteps := actx.MaxSteps
	if maxSteps <= 0 {
		maxSteps = e.opts.DefaultMaxSteps
	}

	base, err := e.outbound(agent, actx)
	if err != nil {
		return fail(err)
	}
	tools := e.resolveTools(agent)

	finish := core.FinishMaxSteps

steps:
	for meta.Steps < maxSteps {
		if ctx.Err() != nil {
			return fail(core.ContextError(op, ctx))
		}
		if err := opts.Limiter.Increment(); err != nil {
			return fail(err)
		}

		msgs := make([]core.Message, 0, len(base)+len(produced))
		msgs = append(msgs, base...)
		msgs = append(msgs, produced...)

		callStart := time.Now()
		resp, err := e.chat.Send(ctx, model.Request{
			ConversationID: actx.ConversationID,
			Messages:       msgs,
			Model:          agent.Model,
			ToolsEnabled:   agent.ToolsEnabled(),
			Tools:          tools,
			MaxSteps:       1,
		})
		e.logModelCall(agent, resp, time.Since(callStart), err)
		if err != nil {
			if ctx.Err() != nil {
				return fail(core.ContextError(op, ctx))
			}
			return fail(core.WrapError(core.KindExecution, op, fmt.Errorf("agent %q: %w", agent.ID, err)))
		}
		if resp == nil {
			return fail(core.NewError(core.KindExecution, op, "agent %q: empty model response", agent.ID))
		}

		meta.Steps++
		if resp.Message.Role == "" {
			resp.Message.Role = core.RoleAssistant
		}
		produced = append(produced, resp.Message)
		if resp.Usage != nil {
			meta.Usage.Add(*resp.Usage)
		}
		calls := len(resp.Message.FunctionCalls())
		meta.ToolCalls += calls

		if opts.OnStep != nil {
			opts.OnStep(meta.Steps, maxSteps)
		}

		switch resp.FinishReason {
		case model.FinishStop:
			finish = core.FinishCompleted
			break steps
		case model.FinishToolCalls:
			if calls == 0 {
				finish = core.FinishCompleted
				break steps
			}
			produced = append(produced, e.callTools(ctx, agent, resp.Message.FunctionCalls()))
		case model.FinishLength:
		case model.FinishError:
			return fail(core.NewError(core.KindExecution, op, "agent %q: model reported an error at step %d", agent.ID, meta.Steps))
		default:
			finish = core.FinishCompleted
			break steps
		}
	}

	meta.ExecutionTime = time.Since(started)
	text := core.LastText(produced)

	var output any = text
	if actx.StructuredOutput {
		output = ExtractOutput(text)
	}

	return core.AgentExecutionResult{
		AgentID:      agent.ID,
		Messages:     produced,
		Output:       output,
		Metadata:     meta,
		FinishReason: finish,
		Timestamp:    time.Now().UTC(),
	}
}

// outbound assembles the fixed prefix of every step: the system message, the
// context history and the user turn taken from the context's last message.
func (e *Executor) outbound(agent core.AgentDefinition, actx core.AgentContext) ([]core.Message, error) {
	msgs := make([]core.Message, 0, len(actx.Messages)+1)

	history := actx.Messages
	if len(history) > 0 && history[0].Role == core.RoleSystem {
		msgs = append(msgs, history[0])
		history = history[1:]
	} else if agent.SystemPrompt != "" {
		prompt, err := util.RenderTemplate(agent.SystemPrompt, actx.SharedData)
		if err != nil {
			return nil, core.WrapError(core.KindInvalidDefinition, "executor.prompt", fmt.Errorf("agent %q: render system prompt: %w", agent.ID, err))
		}
		msgs = append(msgs, core.NewSystemMessage(prompt))
	}

	if len(history) == 0 {
		return msgs, nil
	}

	msgs = append(msgs, history[:len(history)-1]...)
	msgs = append(msgs, core.NewUserMessage(history[len(history)-1].Text()))

	return msgs, nil
}

// callTools answers every call of a tool-calls step with one tool message
// holding a response per call, in call order.
func (e *Executor) callTools(ctx context.Context, agent core.AgentDefinition, calls []core.FunctionCall) core.Message {
	parts := make([]core.Part, 0, len(calls))
	for _, call := range calls {
		var resp core.FunctionResponse
		if e.opts.ToolCaller == nil || !slices.Contains(agent.Tools, call.Name) {
			resp = core.FunctionResponse{
				ID:    call.ID,
				Name:  call.Name,
				Error: fmt.Sprintf("tool %q is not available to agent %q", call.Name, agent.ID),
			}
			e.opts.Logger.Warn("executor.tool.unavailable", "agent_id", agent.ID, "tool", call.Name)
		} else {
			start := time.Now()
			resp = e.opts.ToolCaller.CallTool(ctx, call)
			e.opts.Logger.Info("executor.tool.executed",
				"agent_id", agent.ID,
				"tool", call.Name,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", resp.Error != "",
			)
		}
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: resp})
	}
	return core.Message{
		ID:        core.NewID(),
		Role:      core.RoleTool,
		Parts:     parts,
		CreatedAt: time.Now().UTC(),
	}
}

// modelCallLogger is implemented by loggers offering a per-call summary.
type modelCallLogger interface {
	LogModelCall(model string, tokens int, dur time.Duration, err error)
}

func (e *Executor) logModelCall(agent core.AgentDefinition, resp *model.Response, dur time.Duration, err error) {
	ml, ok := e.opts.Logger.(modelCallLogger)
	if !ok {
		return
	}
	name := "default"
	if agent.Model != nil && agent.Model.Model != "" {
		name = agent.Model.Model
	}
	tokens := 0
	if resp != nil && resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	ml.LogModelCall(name, tokens, dur, err)
}

func (e *Executor) resolveTools(agent core.AgentDefinition) []model.ToolDefinition {
	if !agent.ToolsEnabled() || len(e.opts.Tools) == 0 {
		return nil
	}
	tools := make([]model.ToolDefinition, 0, len(agent.Tools))
	for _, name := range agent.Tools {
		def, ok := e.opts.Tools[name]
		if !ok {
			e.opts.Logger.Debug("executor.tool.unknown", "agent_id", agent.ID, "tool", name)
			continue
		}
		tools = append(tools, def)
	}
	return tools
}
