// Package agentflow assembles the orchestration components (agent catalog,
// executor, workflow engine and loop controller) behind a small façade.
//
// Most applications:
//  1. Create an AgentFlow with New (explicit ChatService) or FromConfig
//     (providers, Redis archive and logging from a config.Config)
//  2. Register agents, directly or from a definitions file
//  3. Run workflows and loops, synchronously or in the background
//
// Every component stays reachable for direct use; the façade owns no state
// beyond the wiring.
package agentflow

import (
	"context"
	"errors"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/catalog"
	"github.com/hupe1980/agentflow/config"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/executor"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/loop"
	"github.com/hupe1980/agentflow/metrics"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/model/anthropic"
	"github.com/hupe1980/agentflow/model/openai"
	"github.com/hupe1980/agentflow/store"
	"github.com/hupe1980/agentflow/tool"
	"github.com/hupe1980/agentflow/workflow"
)

// Options configures the AgentFlow instance.
type Options struct {
	// Executor defaults applied when neither the call nor the context sets them.
	DefaultTimeout  time.Duration
	DefaultMaxSteps int

	// MaxConcurrentRuns bounds concurrently executing workflow runs. 0 means
	// unlimited.
	MaxConcurrentRuns int64

	// Tools holds the function tools agents may reference by name. Tools
	// must be registered before New; nil leaves every tool call unanswered
	// (each call gets an error response).
	Tools *tool.Registry

	// Registerer receives the Prometheus collectors. nil disables metrics.
	Registerer prometheus.Registerer

	// Archives for terminal states. nil keeps only active runs.
	WorkflowStore store.Store[workflow.ExecutionState]
	LoopStore     store.Store[loop.State]

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

// AgentFlow aggregates the catalog, executor, workflow engine and loop
// controller sharing one logger, tracer and metrics set.
type AgentFlow struct {
	catalog  *catalog.Catalog
	executor *executor.Executor
	engine   *workflow.Engine
	loops    *loop.Controller
	metrics  *metrics.Metrics

	closers []func() error
}

// New wires the components around chat.
func New(chat model.ChatService, optFns ...func(o *Options)) *AgentFlow {
	opts := Options{
		DefaultTimeout:  executor.DefaultTimeout,
		DefaultMaxSteps: executor.DefaultMaxSteps,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	}

	cat := catalog.New(func(o *catalog.Options) { o.Logger = opts.Logger })

	exec := executor.New(chat, func(o *executor.Options) {
		o.DefaultTimeout = opts.DefaultTimeout
		o.DefaultMaxSteps = opts.DefaultMaxSteps
		if opts.Tools != nil {
			o.Tools = opts.Tools.Definitions()
			o.ToolCaller = opts.Tools
		}
		o.Logger = opts.Logger
		o.Tracer = opts.Tracer
		o.Metrics = m
	})

	engine := workflow.New(cat, exec, func(o *workflow.Options) {
		o.MaxConcurrentRuns = opts.MaxConcurrentRuns
		o.Logger = opts.Logger
		o.Tracer = opts.Tracer
		o.Metrics = m
		o.Store = opts.WorkflowStore
	})

	loops := loop.New(cat, exec, func(o *loop.Options) {
		o.Logger = opts.Logger
		o.Tracer = opts.Tracer
		o.Metrics = m
		o.Store = opts.LoopStore
	})

	return &AgentFlow{
		catalog:  cat,
		executor: exec,
		engine:   engine,
		loops:    loops,
		metrics:  m,
	}
}

// FromConfig builds an AgentFlow from application settings: a provider router
// over the configured OpenAI and Anthropic services (rate limited when
// providers.rate_limit is set), Redis archives when redis.addr is set and a
// structured logger. optFns run after the settings are applied.
func FromConfig(cfg *config.Config, optFns ...func(o *Options)) (*AgentFlow, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chat := model.NewRateLimited(NewProviderRouter(cfg.Providers), cfg.Providers.RateLimit, cfg.Providers.Burst)

	var (
		client  redis.UniversalClient
		closers []func() error
	)
	if cfg.Redis.Enabled() {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, client.Close)
	}

	logger := logging.NewSlogLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, false)

	af := New(chat, func(o *Options) {
		o.DefaultTimeout = cfg.Executor.DefaultTimeout
		o.DefaultMaxSteps = cfg.Executor.DefaultMaxSteps
		o.MaxConcurrentRuns = cfg.Workflow.MaxConcurrentRuns
		o.Logger = logger
		if client != nil {
			o.WorkflowStore = store.NewRedis[workflow.ExecutionState](client,
				store.WithPrefix("agentflow:workflows"), store.WithTTL(cfg.Redis.TTL))
			o.LoopStore = store.NewRedis[loop.State](client,
				store.WithPrefix("agentflow:loops"), store.WithTTL(cfg.Redis.TTL))
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	af.closers = closers

	return af, nil
}

// NewProviderRouter routes model calls to the provider services configured
// with an API key, falling back to the configured default provider.
func NewProviderRouter(cfg config.ProvidersConfig) *model.Router {
	router := model.NewRouter(cfg.Default)
	if cfg.OpenAI.APIKey != "" {
		router.Register(core.ProviderOpenAI, openai.New(func(o *openai.Options) {
			o.APIKey = cfg.OpenAI.APIKey
			if cfg.OpenAI.Model != "" {
				o.Model = cfg.OpenAI.Model
			}
		}))
	}
	if cfg.Anthropic.APIKey != "" {
		router.Register(core.ProviderAnthropic, anthropic.New(func(o *anthropic.Options) {
			o.APIKey = cfg.Anthropic.APIKey
			if cfg.Anthropic.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Anthropic.Model)
			}
		}))
	}
	return router
}

// Catalog returns the agent catalog.
func (a *AgentFlow) Catalog() *catalog.Catalog { return a.catalog }

// Executor returns the agent executor.
func (a *AgentFlow) Executor() *executor.Executor { return a.executor }

// Workflows returns the workflow engine.
func (a *AgentFlow) Workflows() *workflow.Engine { return a.engine }

// Loops returns the loop controller.
func (a *AgentFlow) Loops() *loop.Controller { return a.loops }

// RegisterAgent adds an agent to the catalog.
func (a *AgentFlow) RegisterAgent(def core.AgentDefinition) error {
	return a.catalog.Register(def)
}

// RegisterDefinitions adds every agent of defs to the catalog.
func (a *AgentFlow) RegisterDefinitions(defs *config.Definitions) error {
	if defs == nil {
		return nil
	}
	return a.catalog.RegisterAll(defs.Agents...)
}

// ExecuteAgent runs a single registered agent on input.
func (a *AgentFlow) ExecuteAgent(ctx context.Context, agentID, input string, opts executor.ExecuteOptions) (core.AgentExecutionResult, error) {
	def, err := a.catalog.Lookup(agentID)
	if err != nil {
		return core.AgentExecutionResult{}, err
	}
	return a.executor.Execute(ctx, def, core.NewAgentContext(input), opts), nil
}

// RunWorkflow executes cfg on input and waits for the terminal state.
func (a *AgentFlow) RunWorkflow(ctx context.Context, cfg workflow.Config, input string, opts workflow.RunOptions) (workflow.ExecutionState, error) {
	return a.engine.Execute(ctx, cfg, core.NewAgentContext(input), opts)
}

// RunLoop drives agentID on input and waits for the final loop state.
func (a *AgentFlow) RunLoop(ctx context.Context, agentID, input string, cfg loop.Config) (loop.State, error) {
	return a.loops.ExecuteLoop(ctx, agentID, core.NewAgentContext(input), cfg)
}

// Shutdown stops every active workflow run and loop, then releases external
// connections.
func (a *AgentFlow) Shutdown() error {
	a.engine.CancelAll()
	a.loops.StopAllLoops()

	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
