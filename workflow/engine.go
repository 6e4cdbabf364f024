package workflow

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/executor"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/metrics"
	"github.com/hupe1980/agentflow/store"
)

const tracerName = "github.com/hupe1980/agentflow/workflow"

// AgentResolver looks up agent definitions by id. *catalog.Catalog satisfies it.
type AgentResolver interface {
	Get(id string) (core.AgentDefinition, bool)
}

// AgentRunner executes agents. *executor.Executor satisfies it.
type AgentRunner interface {
	Execute(ctx context.Context, agent core.AgentDefinition, actx core.AgentContext, opts executor.ExecuteOptions) core.AgentExecutionResult
	ExecuteParallel(ctx context.Context, agents []core.AgentDefinition, actx core.AgentContext, opts executor.ParallelOptions) []core.AgentExecutionResult
}

// Options configures an Engine using the functional options pattern.
//
// Every field is optional:
//   - MaxConcurrentRuns bounds how many runs execute at once; further runs
//     stay pending until a slot frees up. 0 means unlimited.
//   - Logger defaults to a NoOp logger.
//   - Tracer defaults to the global OpenTelemetry tracer provider.
//   - Metrics is nil-safe; nil records nothing.
//   - Store receives the final state of every run. Without it, finished runs
//     are forgotten once they leave the active index.
//
// Example:
//
//	engine := workflow.New(cat, exec, func(o *workflow.Options) {
//	    o.MaxConcurrentRuns = 8
//	    o.Store = store.NewInMemory[workflow.ExecutionState]()
//	})
type Options struct {
	MaxConcurrentRuns int64
	Logger            logging.Logger
	Tracer            trace.Tracer
	Metrics           *metrics.Metrics
	Store             store.Store[ExecutionState]
}

// Engine runs workflows as one of four patterns and tracks every run that
// has not yet reached a terminal status.
//
// Each run is owned by exactly one goroutine, which is the only writer of its
// ExecutionState. Status pollers read snapshots concurrently. Cancellation is
// a context threaded from Start through every agent invocation the run
// spawns: cancelling it (through the caller's context, CancelWorkflow, or the
// workflow timeout) stops the run at its next check point and also preempts
// the in-flight model call.
//
// Terminal status is derived from the error kind that ended the run:
// cancellation yields stopped, an elapsed deadline yields timeout, and any
// other failure yields failed.
type Engine struct {
	agents AgentResolver
	runner AgentRunner
	opts   Options
	sem    *semaphore.Weighted

	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates an Engine resolving agents through agents and executing them
// through runner.
func New(agents AgentResolver, runner AgentRunner, optFns ...func(o *Options)) *Engine {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.ForComponent(logging.OrNoOp(opts.Logger), "workflow")
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	e := &Engine{
		agents: agents,
		runner: runner,
		opts:   opts,
		runs:   make(map[string]*Run),
	}
	if opts.MaxConcurrentRuns > 0 {
		e.sem = semaphore.NewWeighted(opts.MaxConcurrentRuns)
	}
	return e
}

// Start validates cfg, registers a new run and launches it in the background.
//
// Configuration errors (unknown type, too few agents, unresolvable agent ids,
// invalid options) are returned synchronously and no run is created. All
// runtime failures are reported through the run's terminal ExecutionState.
//
// ctx is the upstream cancellation signal: cancelling it stops the run.
func (e *Engine) Start(ctx context.Context, cfg Config, actx core.AgentContext, opts RunOptions) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	agents, err := e.resolve(cfg.Agents)
	if err != nil {
		return nil, err
	}

	id := core.NewID()
	runCtx, cancel := context.WithCancelCause(ctx)

	run := newRun(id, cfg, cancel, opts.OnProgress)

	e.mu.Lock()
	e.runs[id] = run
	e.mu.Unlock()

	e.opts.Metrics.WorkflowStarted()
	e.opts.Logger.Info("workflow.run.start", "run_id", id, "workflow", cfg.Name, "type", cfg.Type, "agents", len(agents))

	go e.execute(runCtx, run, agents, actx.Clone(), opts)

	return run, nil
}

// Execute starts a run and waits for its terminal state.
func (e *Engine) Execute(ctx context.Context, cfg Config, actx core.AgentContext, opts RunOptions) (ExecutionState, error) {
	run, err := e.Start(ctx, cfg, actx, opts)
	if err != nil {
		return ExecutionState{}, err
	}
	return run.Wait(), nil
}

// CancelWorkflow requests the active run id to stop. It reports whether the
// run was active.
func (e *Engine) CancelWorkflow(id string) bool {
	e.mu.RLock()
	run, ok := e.runs[id]
	e.mu.RUnlock()

	if !ok {
		return false
	}
	run.Cancel()
	e.opts.Logger.Info("workflow.run.cancel", "run_id", id)
	return true
}

// CancelAll requests every active run to stop and returns how many were
// signalled.
func (e *Engine) CancelAll() int {
	e.mu.RLock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.RUnlock()

	for _, r := range runs {
		r.Cancel()
	}
	return len(runs)
}

// Status returns the state of run id: a live snapshot for active runs, or the
// archived final state when a Store is configured.
func (e *Engine) Status(id string) (ExecutionState, bool) {
	e.mu.RLock()
	run, ok := e.runs[id]
	e.mu.RUnlock()

	if ok {
		return run.State(), true
	}
	if e.opts.Store == nil {
		return ExecutionState{}, false
	}
	state, err := e.opts.Store.Load(context.Background(), id)
	if err != nil {
		return ExecutionState{}, false
	}
	return state, true
}

// ActiveRuns returns the ids of runs that are not yet terminal, sorted.
func (e *Engine) ActiveRuns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Engine) resolve(ids []string) ([]core.AgentDefinition, error) {
	agents := make([]core.AgentDefinition, 0, len(ids))
	for _, id := range ids {
		def, ok := e.agents.Get(id)
		if !ok {
			return nil, core.NewError(core.KindAgentNotFound, "workflow.resolve", "agent %q not found", id)
		}
		agents = append(agents, def)
	}
	return agents, nil
}

// execute is the owning goroutine of run.
func (e *Engine) execute(ctx context.Context, run *Run, agents []core.AgentDefinition, actx core.AgentContext, opts RunOptions) {
	cfg := run.state.Config

	defer close(run.done)
	defer run.cancel(nil)

	ctx, span := e.opts.Tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", run.ID()),
		attribute.String("workflow.name", cfg.Name),
		attribute.String("workflow.type", string(cfg.Type)),
	))
	defer span.End()

	logger := logging.ForRun(e.opts.Logger, run.ID())

	err := e.acquire(ctx)
	if err == nil {
		defer e.release()

		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeoutCause(ctx, cfg.Timeout,
				core.NewError(core.KindTimeout, "workflow.run", "workflow %s timed out after %s", run.ID(), cfg.Timeout))
			defer cancel()
		}

		run.update(func(s *ExecutionState) { s.Status = StatusRunning })

		x := &execution{
			engine:  e,
			run:     run,
			cfg:     cfg,
			opts:    opts,
			limiter: core.NewModelLimiter(opts.MaxModelCalls),
			logger:  logger,
		}
		err = x.runPattern(ctx, agents, actx)
	}

	run.finish(err)
	state := run.State()

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("workflow.status", string(state.Status)), attribute.Int("workflow.results", len(state.Results)))

	e.archive(ctx, state)

	e.mu.Lock()
	delete(e.runs, run.ID())
	e.mu.Unlock()

	e.opts.Metrics.WorkflowFinished(string(cfg.Type), string(state.Status), state.Duration())
	logFinish(logger, state, err)
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.sem == nil {
		return nil
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return core.ContextError("workflow.acquire", ctx)
	}
	return nil
}

func (e *Engine) release() {
	if e.sem != nil {
		e.sem.Release(1)
	}
}

func (e *Engine) archive(ctx context.Context, state ExecutionState) {
	if e.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.opts.Store.Save(ctx, state.ID, state); err != nil {
		e.opts.Logger.Error("workflow.run.archive_failed", "run_id", state.ID, "error", err.Error())
	}
}

// workflowLogger is implemented by loggers offering a run summary helper.
type workflowLogger interface {
	LogWorkflowExecution(workflowType, status string, steps int, dur time.Duration, err error)
}

// logFinish expects logger to be scoped to the run (see logging.ForRun).
func logFinish(logger logging.Logger, state ExecutionState, err error) {
	if wl, ok := logger.(workflowLogger); ok {
		wl.LogWorkflowExecution(string(state.Config.Type), string(state.Status), state.CurrentStep, state.Duration(), err)
		return
	}
	args := []any{"run_id", state.ID, "status", state.Status, "steps", state.CurrentStep, "results", len(state.Results), "duration", state.Duration()}
	if err != nil {
		logger.Warn("workflow.run.finish", append(args, "error", err.Error())...)
		return
	}
	logger.Info("workflow.run.finish", args...)
}

// String renders a short description of the run state.
func (s ExecutionState) String() string {
	return fmt.Sprintf("%s[%s] %s step=%d results=%d", s.Config.Type, s.ID, s.Status, s.CurrentStep, len(s.Results))
}
