package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/executor"
	"github.com/hupe1980/agentflow/logging"
)

// execution carries the per-run collaborators shared by the patterns.
type execution struct {
	engine  *Engine
	run     *Run
	cfg     Config
	opts    RunOptions
	limiter *core.ModelLimiter
	logger  logging.Logger
}

func (x *execution) runPattern(ctx context.Context, agents []core.AgentDefinition, actx core.AgentContext) error {
	switch x.cfg.Type {
	case TypeSequential:
		return x.sequential(ctx, agents, actx)
	case TypeParallel:
		return x.parallel(ctx, agents, actx)
	case TypeRouting:
		return x.routing(ctx, agents, actx)
	case TypeEvaluatorOptimizer:
		return x.evaluatorOptimizer(ctx, agents, actx)
	default:
		return core.NewError(core.KindInvalidConfig, "workflow.run", "unknown workflow type %q", x.cfg.Type)
	}
}

func (x *execution) executeOptions() executor.ExecuteOptions {
	return executor.ExecuteOptions{
		Timeout: x.opts.AgentTimeout,
		OnStep:  x.opts.OnStep,
		Limiter: x.limiter,
	}
}

// checkpoint returns the tagged context error once the run was cancelled or
// its deadline elapsed.
func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return core.ContextError("workflow.step", ctx)
	}
	return nil
}

// executeWithRecovery runs agent once, or several times under RecoveryRetry.
// A non-nil error means the step failed for good or the run was aborted;
// the last result is returned either way.
func (x *execution) executeWithRecovery(ctx context.Context, agent core.AgentDefinition, actx core.AgentContext) (core.AgentExecutionResult, error) {
	attempts := 1
	if x.opts.ErrorRecovery == RecoveryRetry {
		attempts += x.opts.MaxRetries
	}

	for attempt := 1; ; attempt++ {
		res := x.engine.runner.Execute(ctx, agent, actx, x.executeOptions())
		if err := checkpoint(ctx); err != nil {
			return res, err
		}
		if !res.Failed() {
			return res, nil
		}
		if attempt >= attempts || !res.ErrorKind.Retryable() {
			return res, res.Err()
		}

		x.logger.Warn("workflow.step.retry",
			"run_id", x.run.ID(),
			"agent_id", agent.ID,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", res.Error,
		)

		if err := sleep(ctx, x.opts.RetryDelay); err != nil {
			return res, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return checkpoint(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return core.ContextError("workflow.retry", ctx)
	case <-t.C:
		return nil
	}
}

// aborted reports whether err ended the run because of cancellation or the
// run deadline rather than because of a failed step.
func aborted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}

// sequential runs agents in order, folding every successful result into the
// context of the next agent.
func (x *execution) sequential(ctx context.Context, agents []core.AgentDefinition, actx core.AgentContext) error {
	current := actx
	for i, agent := range agents {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		if x.cfg.StopWhen != nil && x.cfg.StopWhen(x.run.results()) {
			x.logger.Info("workflow.sequential.stop_when", "run_id", x.run.ID(), "step", i)
			return nil
		}
		if x.cfg.MaxSteps > 0 && i >= x.cfg.MaxSteps {
			x.logger.Info("workflow.sequential.max_steps", "run_id", x.run.ID(), "max_steps", x.cfg.MaxSteps)
			return nil
		}

		x.run.nextStep()
		res, err := x.executeWithRecovery(ctx, agent, current)
		if aborted(ctx, err) {
			return err
		}
		x.run.appendResult(res)

		if err != nil {
			if x.opts.ErrorRecovery == RecoveryContinue {
				x.logger.Warn("workflow.step.failed", "run_id", x.run.ID(), "agent_id", agent.ID, "error", res.Error)
				continue
			}
			return err
		}

		current = current.WithMessages(res.Messages...).
			WithSharedData(KeyPreviousOutput, res.Output).
			WithSharedData(KeyPreviousAgent, agent.ID)
	}
	return nil
}

// parallel fans out to every agent through the executor's batched parallel
// execution. Results replace the run's result list in input order.
func (x *execution) parallel(ctx context.Context, agents []core.AgentDefinition, actx core.AgentContext) error {
	if err := checkpoint(ctx); err != nil {
		return err
	}

	concurrency, _ := x.cfg.maxConcurrency()

	x.run.nextStep()
	results := x.engine.runner.ExecuteParallel(ctx, agents, actx, executor.ParallelOptions{
		ExecuteOptions: x.executeOptions(),
		MaxConcurrency: concurrency,
	})
	if err := checkpoint(ctx); err != nil {
		x.run.update(func(s *ExecutionState) { s.Results = results })
		return err
	}

	if x.opts.ErrorRecovery == RecoveryRetry {
		for i, res := range results {
			if !res.Failed() || !res.ErrorKind.Retryable() {
				continue
			}
			retried, err := x.retryBranch(ctx, agents[i], actx)
			if aborted(ctx, err) {
				x.run.update(func(s *ExecutionState) { s.Results = results })
				return err
			}
			results[i] = retried
		}
	}

	x.run.update(func(s *ExecutionState) { s.Results = results })

	if x.opts.ErrorRecovery == RecoveryContinue {
		return nil
	}
	for _, res := range results {
		if res.Failed() {
			return res.Err()
		}
	}
	return nil
}

// retryBranch re-runs a failed parallel branch up to MaxRetries times.
func (x *execution) retryBranch(ctx context.Context, agent core.AgentDefinition, actx core.AgentContext) (core.AgentExecutionResult, error) {
	var (
		res core.AgentExecutionResult
		err error
	)
	for attempt := 1; attempt <= x.opts.MaxRetries; attempt++ {
		if err := sleep(ctx, x.opts.RetryDelay); err != nil {
			return res, err
		}
		x.logger.Warn("workflow.branch.retry", "run_id", x.run.ID(), "agent_id", agent.ID, "attempt", attempt)

		res = x.engine.runner.Execute(ctx, agent, actx.Clone(), x.executeOptions())
		if err = checkpoint(ctx); err != nil {
			return res, err
		}
		if !res.Failed() {
			return res, nil
		}
		err = res.Err()
	}
	return res, err
}

// routing runs the first agent as router and hands the query to the agent it
// selects, or to the second agent when no valid selection is made.
func (x *execution) routing(ctx context.Context, agents []core.AgentDefinition, actx core.AgentContext) error {
	router, fallback := agents[0], agents[1]

	if err := checkpoint(ctx); err != nil {
		return err
	}

	routerCtx := actx.Clone()
	routerCtx.StructuredOutput = true

	x.run.nextStep()
	res, err := x.executeWithRecovery(ctx, router, routerCtx)
	if aborted(ctx, err) {
		return err
	}
	x.run.appendResult(res)
	if err != nil && x.opts.ErrorRecovery != RecoveryContinue {
		return err
	}

	target := fallback
	selected := selectedAgent(res.Output)
	if match, ok := findAgent(agents[1:], selected); ok {
		target = match
	} else if x.cfg.strictRouting() {
		if selected == "" {
			return core.NewError(core.KindExecution, "workflow.routing", "router %q made no selection", router.ID)
		}
		return core.NewError(core.KindExecution, "workflow.routing", "router %q selected unknown agent %q", router.ID, selected)
	}

	x.logger.Info("workflow.routing.decision",
		"run_id", x.run.ID(),
		"router", router.ID,
		"selected", selected,
		"target", target.ID,
		"fallback", target.ID == fallback.ID && selected != fallback.ID,
	)

	if err := checkpoint(ctx); err != nil {
		return err
	}

	next := actx.WithMessages(res.Messages...).WithSharedData(KeySelectedAgent, target.ID)

	x.run.nextStep()
	res, err = x.executeWithRecovery(ctx, target, next)
	if aborted(ctx, err) {
		return err
	}
	x.run.appendResult(res)
	if err != nil && x.opts.ErrorRecovery != RecoveryContinue {
		return err
	}
	return nil
}

// selectedAgent extracts the routing decision from a router output.
func selectedAgent(output any) string {
	switch v := output.(type) {
	case map[string]any:
		s, _ := v[KeySelectedAgent].(string)
		return strings.TrimSpace(s)
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func findAgent(agents []core.AgentDefinition, id string) (core.AgentDefinition, bool) {
	if id == "" {
		return core.AgentDefinition{}, false
	}
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return core.AgentDefinition{}, false
}

// evaluatorOptimizer alternates a generator (first agent) and an evaluator
// (second agent) until StopWhen fires or the iteration budget is spent.
func (x *execution) evaluatorOptimizer(ctx context.Context, agents []core.AgentDefinition, actx core.AgentContext) error {
	generator, evaluator := agents[0], agents[1]

	iterations := x.cfg.MaxSteps
	if iterations <= 0 {
		iterations = DefaultEvaluatorIterations
	}

	current := actx
	for iteration := 1; iteration <= iterations; iteration++ {
		if err := checkpoint(ctx); err != nil {
			return err
		}

		x.run.nextStep()
		gen, err := x.executeWithRecovery(ctx, generator, current)
		if aborted(ctx, err) {
			return err
		}
		x.run.appendResult(gen)
		if err != nil {
			x.logger.Warn("workflow.evaluator.generator_failed", "run_id", x.run.ID(), "iteration", iteration, "error", gen.Error)
			if x.opts.ErrorRecovery == RecoveryContinue {
				return nil
			}
			return err
		}

		if err := checkpoint(ctx); err != nil {
			return err
		}

		evalCtx := current.WithMessages(gen.Messages...).
			WithSharedData(KeyGeneratorOutput, gen.Output).
			WithSharedData(KeyIteration, iteration)

		x.run.nextStep()
		eval, err := x.executeWithRecovery(ctx, evaluator, evalCtx)
		if aborted(ctx, err) {
			return err
		}
		x.run.appendResult(eval)
		if err != nil && x.opts.ErrorRecovery != RecoveryContinue {
			return err
		}

		if x.cfg.StopWhen != nil && x.cfg.StopWhen(x.run.results()) {
			x.logger.Info("workflow.evaluator.stop_when", "run_id", x.run.ID(), "iteration", iteration)
			return nil
		}

		current = current.WithMessages(gen.Messages...).
			WithMessages(eval.Messages...).
			WithSharedData(KeyPreviousOutput, gen.Output).
			WithSharedData(KeyFeedback, eval.Output).
			WithSharedData(KeyIteration, iteration)
	}
	return nil
}
