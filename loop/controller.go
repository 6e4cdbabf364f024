package loop

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/executor"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/metrics"
	"github.com/hupe1980/agentflow/store"
)

const tracerName = "github.com/hupe1980/agentflow/loop"

// AgentResolver looks up agent definitions by id. *catalog.Catalog satisfies it.
type AgentResolver interface {
	Get(id string) (core.AgentDefinition, bool)
}

// AgentRunner executes a single agent. *executor.Executor satisfies it.
type AgentRunner interface {
	Execute(ctx context.Context, agent core.AgentDefinition, actx core.AgentContext, opts executor.ExecuteOptions) core.AgentExecutionResult
}

// Options configures a Controller.
type Options struct {
	Logger  logging.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Metrics
	// Store receives the final state of every loop.
	Store store.Store[State]
}

// Controller drives single agents repeatedly and tracks every loop that is
// still running. Loops are independent: each owns its cancellation handle, so
// stopping one never affects another.
type Controller struct {
	agents AgentResolver
	runner AgentRunner
	opts   Options

	mu    sync.RWMutex
	loops map[string]*Handle
}

// New creates a Controller.
func New(agents AgentResolver, runner AgentRunner, optFns ...func(o *Options)) *Controller {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.ForComponent(logging.OrNoOp(opts.Logger), "loop")
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Controller{
		agents: agents,
		runner: runner,
		opts:   opts,
		loops:  make(map[string]*Handle),
	}
}

// Start validates cfg, resolves agentID and launches the loop in the
// background. Configuration errors are returned synchronously.
func (c *Controller) Start(ctx context.Context, agentID string, actx core.AgentContext, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	agent, ok := c.agents.Get(agentID)
	if !ok {
		return nil, core.NewError(core.KindAgentNotFound, "loop.resolve", "agent %q not found", agentID)
	}

	id := core.NewID()
	loopCtx, cancel := context.WithCancelCause(ctx)
	h := newHandle(id, agent.ID, cancel)

	c.mu.Lock()
	c.loops[id] = h
	c.mu.Unlock()

	c.opts.Metrics.LoopStarted()
	c.opts.Logger.Info("loop.start", "loop_id", id, "agent_id", agent.ID, "max_iterations", cfg.MaxIterations)

	go c.run(loopCtx, h, agent, actx.Clone(), cfg)

	return h, nil
}

// ExecuteLoop starts a loop and waits for its final state.
func (c *Controller) ExecuteLoop(ctx context.Context, agentID string, actx core.AgentContext, cfg Config) (State, error) {
	h, err := c.Start(ctx, agentID, actx, cfg)
	if err != nil {
		return State{}, err
	}
	return h.Wait(), nil
}

// StopLoop stops the running loop id and reports whether it was running.
func (c *Controller) StopLoop(id string) bool {
	c.mu.RLock()
	h, ok := c.loops[id]
	c.mu.RUnlock()

	if !ok {
		return false
	}
	h.Stop()
	c.opts.Logger.Info("loop.stop", "loop_id", id)
	return true
}

// StopAllLoops stops every running loop and returns how many were signalled.
func (c *Controller) StopAllLoops() int {
	c.mu.RLock()
	handles := make([]*Handle, 0, len(c.loops))
	for _, h := range c.loops {
		handles = append(handles, h)
	}
	c.mu.RUnlock()

	for _, h := range handles {
		h.Stop()
	}
	return len(handles)
}

// ActiveLoops returns the ids of running loops, sorted.
func (c *Controller) ActiveLoops() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.loops))
	for id := range c.loops {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Status returns a running loop's snapshot, or its archived final state
// when a Store is configured.
func (c *Controller) Status(id string) (State, bool) {
	c.mu.RLock()
	h, ok := c.loops[id]
	c.mu.RUnlock()

	if ok {
		return h.State(), true
	}
	if c.opts.Store == nil {
		return State{}, false
	}
	state, err := c.opts.Store.Load(context.Background(), id)
	if err != nil {
		return State{}, false
	}
	return state, true
}

// run is the owning goroutine of h.
func (c *Controller) run(ctx context.Context, h *Handle, agent core.AgentDefinition, actx core.AgentContext, cfg Config) {
	defer close(h.done)
	defer h.cancel(nil)

	ctx, span := c.opts.Tracer.Start(ctx, "loop.run", trace.WithAttributes(
		attribute.String("loop.id", h.ID()),
		attribute.String("agent.id", agent.ID),
		attribute.Int("loop.max_iterations", cfg.MaxIterations),
	))
	defer span.End()

	if cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.TotalTimeout,
			core.NewError(core.KindTimeout, "loop.run", "loop %s exceeded total timeout %s", h.ID(), cfg.TotalTimeout))
		defer cancel()
	}

	logger := logging.ForRun(c.opts.Logger, h.ID())
	reason, err := c.iterate(ctx, h, agent, actx, cfg, logger)

	state := h.finish(reason, err)

	if err != nil && reason != StopReasonStopped {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("loop.stop_reason", string(reason)), attribute.Int("loop.iterations", state.Iteration))

	c.archive(ctx, state)

	c.mu.Lock()
	delete(c.loops, h.ID())
	c.mu.Unlock()

	c.opts.Metrics.LoopFinished()
	logger.Info("loop.finish",
		"loop_id", h.ID(),
		"agent_id", agent.ID,
		"iterations", state.Iteration,
		"stop_reason", reason,
		"duration", state.TotalTime,
	)

	if cfg.OnComplete != nil {
		cfg.OnComplete(state)
	}
}

// iterate runs iterations until a stop condition, a bound, a failure or a
// stop request ends the loop.
func (c *Controller) iterate(ctx context.Context, h *Handle, agent core.AgentDefinition, actx core.AgentContext, cfg Config, logger logging.Logger) (StopReason, error) {
	started := time.Now()
	current := actx

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if cfg.TotalTimeout > 0 && time.Since(started) >= cfg.TotalTimeout {
			return StopReasonTimeout, core.NewError(core.KindTimeout, "loop.run", "loop %s exceeded total timeout %s", h.ID(), cfg.TotalTimeout)
		}
		if ctx.Err() != nil {
			err := core.ContextError("loop.iteration", ctx)
			return reasonFor(err), err
		}

		iterStart := time.Now()
		res := c.runner.Execute(ctx, agent, current, executor.ExecuteOptions{Timeout: cfg.IterationTimeout})

		// A stop request or the total timeout ends the loop without
		// recording the aborted iteration.
		if ctx.Err() != nil {
			err := core.ContextError("loop.iteration", ctx)
			return reasonFor(err), err
		}

		h.record(iteration, res)
		c.opts.Metrics.LoopIteration(agent.ID, res.Failed())
		logIteration(logger, h.ID(), agent.ID, iteration, time.Since(iterStart), res.Err())

		if cfg.OnIteration != nil {
			cfg.OnIteration(iteration, res)
		}

		if res.Failed() {
			err := res.Err()
			if cfg.OnError != nil {
				cfg.OnError(iteration, err)
			}
			return reasonFor(err), err
		}

		if iteration >= cfg.MinIterations && cfg.StopWhen != nil && cfg.StopWhen(iteration, h.results()) {
			return StopReasonCondition, nil
		}
		if iteration == cfg.MaxIterations {
			break
		}

		current = current.WithMessages(res.Messages...).
			WithSharedData(KeyPreviousOutput, res.Output).
			WithSharedData(KeyPreviousIteration, iteration).
			WithSharedData(KeyIterationResults, h.results())

		if err := pause(ctx, cfg.Interval); err != nil {
			return reasonFor(err), err
		}
	}
	return StopReasonMaxIterations, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return core.ContextError("loop.interval", ctx)
	case <-t.C:
		return nil
	}
}

func (c *Controller) archive(ctx context.Context, state State) {
	if c.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.opts.Store.Save(ctx, state.ID, state); err != nil {
		c.opts.Logger.Error("loop.archive_failed", "loop_id", state.ID, "error", err.Error())
	}
}

// iterationLogger is implemented by loggers offering an iteration helper.
type iterationLogger interface {
	LogLoopIteration(agentID string, iteration int, dur time.Duration, err error)
}

// logIteration expects logger to be scoped to the loop (see logging.ForRun),
// which is how the iteration helper learns the loop id.
func logIteration(logger logging.Logger, loopID, agentID string, iteration int, dur time.Duration, err error) {
	if il, ok := logger.(iterationLogger); ok {
		il.LogLoopIteration(agentID, iteration, dur, err)
		return
	}
	if err != nil {
		logger.Warn("loop.iteration", "loop_id", loopID, "agent_id", agentID, "iteration", iteration, "duration", dur, "error", err.Error())
		return
	}
	logger.Debug("loop.iteration", "loop_id", loopID, "agent_id", agentID, "iteration", iteration, "duration", dur)
}
