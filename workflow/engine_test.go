package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/catalog"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/executor"
	"github.com/hupe1980/agentflow/metrics"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/store"
)

type agentFunc func(ctx context.Context, req model.Request) (*model.Response, error)

// scriptedChat dispatches model calls to per-agent handlers. Agents are
// identified by their system prompt "agent:<id>".
type scriptedChat struct {
	mu       sync.Mutex
	handlers map[string]agentFunc
	calls    []string
}

func newScriptedChat() *scriptedChat {
	return &scriptedChat{handlers: make(map[string]agentFunc)}
}

func (s *scriptedChat) on(id string, fn agentFunc) *scriptedChat {
	s.handlers[id] = fn
	return s
}

func (s *scriptedChat) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	id := strings.TrimPrefix(req.SystemText(), "agent:")

	s.mu.Lock()
	s.calls = append(s.calls, id)
	fn := s.handlers[id]
	s.mu.Unlock()

	if fn == nil {
		return answer(id + " says: " + req.LastUserText()), nil
	}
	return fn(ctx, req)
}

func (s *scriptedChat) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *scriptedChat) count(id string) int {
	n := 0
	for _, c := range s.called() {
		if c == id {
			n++
		}
	}
	return n
}

func answer(text string) *model.Response {
	return &model.Response{Message: core.NewAssistantMessage(text), FinishReason: model.FinishStop}
}

func failing(context.Context, model.Request) (*model.Response, error) {
	return nil, errors.New("model unavailable")
}

func blocking(ctx context.Context, _ model.Request) (*model.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestEngine(t *testing.T, chat model.ChatService, ids []string, optFns ...func(o *Options)) (*Engine, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New()
	for _, id := range ids {
		require.NoError(t, cat.Register(core.AgentDefinition{ID: id, Name: id, SystemPrompt: "agent:" + id}))
	}
	return New(cat, executor.New(chat), optFns...), cat
}

func agentIDs(results []core.AgentExecutionResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.AgentID
	}
	return out
}

// Validation tests

func TestStart_RejectsInvalidConfig(t *testing.T) {
	e, _ := newTestEngine(t, newScriptedChat(), []string{"a", "b"})
	ctx := context.Background()
	actx := core.NewAgentContext("x")

	_, err := e.Start(ctx, Config{Type: "circular", Agents: []string{"a"}}, actx, RunOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = e.Start(ctx, Config{Type: TypeRouting, Agents: []string{"a"}}, actx, RunOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = e.Start(ctx, Config{Type: TypeEvaluatorOptimizer, Agents: []string{"a"}}, actx, RunOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = e.Start(ctx, Config{Type: TypeSequential, Agents: []string{"a", "ghost"}}, actx, RunOptions{})
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	_, err = e.Start(ctx, Config{Type: TypeSequential, Agents: []string{"a"}}, actx, RunOptions{ErrorRecovery: "ignore"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = e.Start(ctx, Config{Type: TypeParallel, Agents: []string{"a"}, Params: map[string]any{ParamMaxConcurrency: 1.5}}, actx, RunOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	assert.Empty(t, e.ActiveRuns())
}

// Sequential tests

func TestSequential_FoldsOutputs(t *testing.T) {
	chat := newScriptedChat()
	var secondShared atomic.Value
	chat.on("b", func(_ context.Context, req model.Request) (*model.Response, error) {
		secondShared.Store(req.LastUserText())
		return answer("final"), nil
	})

	e, _ := newTestEngine(t, chat, []string{"a", "b"})

	var progress []Status
	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a", "b"}}, core.NewAgentContext("hello"), RunOptions{
		OnProgress: func(s ExecutionState) { progress = append(progress, s.Status) },
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a", "b"}, agentIDs(state.Results))
	assert.Equal(t, 2, state.CurrentStep)
	assert.NotNil(t, state.EndTime)
	assert.Equal(t, "a says: hello", secondShared.Load())
	assert.Equal(t, "final", state.Results[1].Output)
	assert.Contains(t, progress, StatusRunning)
	assert.Equal(t, StatusCompleted, progress[len(progress)-1])
}

func TestSequential_ContinuePastFailure(t *testing.T) {
	chat := newScriptedChat().on("b", failing)
	e, _ := newTestEngine(t, chat, []string{"a", "b", "c"})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a", "b", "c"}}, core.NewAgentContext("x"), RunOptions{ErrorRecovery: RecoveryContinue})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a", "b", "c"}, agentIDs(state.Results))
	assert.True(t, state.Results[1].Failed())
}

func TestSequential_StopOnFailure(t *testing.T) {
	chat := newScriptedChat().on("b", failing)
	e, _ := newTestEngine(t, chat, []string{"a", "b", "c"})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a", "b", "c"}}, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, core.KindExecution, state.ErrorKind)
	assert.NotEmpty(t, state.Error)
	assert.NotContains(t, agentIDs(state.Results), "c")
	assert.Zero(t, chat.count("c"))
}

func TestSequential_RetryThenSucceed(t *testing.T) {
	var attempts atomic.Int32
	chat := newScriptedChat().on("a", func(context.Context, model.Request) (*model.Response, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("flaky")
		}
		return answer("ok"), nil
	})
	e, _ := newTestEngine(t, chat, []string{"a"})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a"}}, core.NewAgentContext("x"), RunOptions{ErrorRecovery: RecoveryRetry, MaxRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, int32(3), attempts.Load())
	require.Len(t, state.Results, 1)
	assert.False(t, state.Results[0].Failed())
}

func TestSequential_RetryExhaustedFails(t *testing.T) {
	chat := newScriptedChat().on("a", failing)
	e, _ := newTestEngine(t, chat, []string{"a", "b"})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a", "b"}}, core.NewAgentContext("x"), RunOptions{ErrorRecovery: RecoveryRetry})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, 1+DefaultMaxRetries, chat.count("a"))
	assert.Zero(t, chat.count("b"))
}

func TestSequential_StopWhenAndMaxSteps(t *testing.T) {
	e, _ := newTestEngine(t, newScriptedChat(), []string{"a", "b", "c"})
	cfg := Config{
		Type:     TypeSequential,
		Agents:   []string{"a", "b", "c"},
		StopWhen: func(results []core.AgentExecutionResult) bool { return len(results) == 1 },
	}

	state, err := e.Execute(context.Background(), cfg, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a"}, agentIDs(state.Results))

	cfg.StopWhen = nil
	cfg.MaxSteps = 2
	state, err = e.Execute(context.Background(), cfg, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, agentIDs(state.Results))
}

// Parallel tests

func TestParallel_ResultsInInputOrder(t *testing.T) {
	chat := newScriptedChat().
		on("a", func(context.Context, model.Request) (*model.Response, error) {
			time.Sleep(20 * time.Millisecond)
			return answer("slow"), nil
		})
	e, _ := newTestEngine(t, chat, []string{"a", "b", "c"})

	cfg := Config{Type: TypeParallel, Agents: []string{"a", "b", "c"}, Params: map[string]any{ParamMaxConcurrency: 2}}
	state, err := e.Execute(context.Background(), cfg, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"a", "b", "c"}, agentIDs(state.Results))
	assert.Equal(t, "slow", state.Results[0].Output)
}

func TestParallel_FailurePolicies(t *testing.T) {
	chat := newScriptedChat().on("b", failing)
	e, _ := newTestEngine(t, chat, []string{"a", "b", "c"})
	cfg := Config{Type: TypeParallel, Agents: []string{"a", "b", "c"}}

	state, err := e.Execute(context.Background(), cfg, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Len(t, state.Results, 3)

	state, err = e.Execute(context.Background(), cfg, core.NewAgentContext("x"), RunOptions{ErrorRecovery: RecoveryContinue})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.True(t, state.Results[1].Failed())
}

func TestParallel_RetryRecoversBranch(t *testing.T) {
	var calls atomic.Int32
	chat := newScriptedChat().on("b", func(context.Context, model.Request) (*model.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return answer("recovered"), nil
	})
	e, _ := newTestEngine(t, chat, []string{"a", "b"})

	state, err := e.Execute(context.Background(), Config{Type: TypeParallel, Agents: []string{"a", "b"}}, core.NewAgentContext("x"), RunOptions{ErrorRecovery: RecoveryRetry, MaxRetries: 1})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "recovered", state.Results[1].Output)
}

// Routing tests

func TestRouting_SelectedAgentReceivesQuery(t *testing.T) {
	chat := newScriptedChat().on("router", func(_ context.Context, req model.Request) (*model.Response, error) {
		return answer(`{"selectedAgent": "billing"}`), nil
	})
	e, _ := newTestEngine(t, chat, []string{"router", "general", "billing"})

	state, err := e.Execute(context.Background(), Config{Type: TypeRouting, Agents: []string{"router", "general", "billing"}}, core.NewAgentContext("invoice"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"router", "billing"}, agentIDs(state.Results))
	assert.Zero(t, chat.count("general"))
}

func TestRouting_FallbackAndStrict(t *testing.T) {
	chat := newScriptedChat().on("router", func(context.Context, model.Request) (*model.Response, error) {
		return answer(`{"selectedAgent": "nobody"}`), nil
	})
	e, _ := newTestEngine(t, chat, []string{"router", "general", "billing"})
	cfg := Config{Type: TypeRouting, Agents: []string{"router", "general", "billing"}}

	state, err := e.Execute(context.Background(), cfg, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"router", "general"}, agentIDs(state.Results))

	cfg.Params = map[string]any{ParamRoutingStrategy: RoutingStrict}
	state, err = e.Execute(context.Background(), cfg, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Error, "nobody")
	assert.Equal(t, []string{"router"}, agentIDs(state.Results))
}

func TestRouting_RouterCannotSelectItself(t *testing.T) {
	chat := newScriptedChat().on("router", func(context.Context, model.Request) (*model.Response, error) {
		return answer(`{"selectedAgent": "router"}`), nil
	})
	e, _ := newTestEngine(t, chat, []string{"router", "general"})

	state, err := e.Execute(context.Background(), Config{Type: TypeRouting, Agents: []string{"router", "general"}}, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"router", "general"}, agentIDs(state.Results))
}

// Evaluator-optimizer tests

func TestEvaluatorOptimizer_StopWhenOnFirstIteration(t *testing.T) {
	chat := newScriptedChat().on("critic", func(context.Context, model.Request) (*model.Response, error) {
		return answer("APPROVED"), nil
	})
	e, _ := newTestEngine(t, chat, []string{"writer", "critic"})

	cfg := Config{
		Type:   TypeEvaluatorOptimizer,
		Agents: []string{"writer", "critic"},
		StopWhen: func(results []core.AgentExecutionResult) bool {
			return strings.Contains(results[len(results)-1].Text(), "APPROVED")
		},
	}
	state, err := e.Execute(context.Background(), cfg, core.NewAgentContext("draft"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"writer", "critic"}, agentIDs(state.Results))
	assert.Equal(t, 1, chat.count("writer"))
}

func TestEvaluatorOptimizer_DefaultIterations(t *testing.T) {
	chat := newScriptedChat()
	e, _ := newTestEngine(t, chat, []string{"writer", "critic"})

	state, err := e.Execute(context.Background(), Config{Type: TypeEvaluatorOptimizer, Agents: []string{"writer", "critic"}}, core.NewAgentContext("draft"), RunOptions{})
	require.NoError(t, err)

	assert.Len(t, state.Results, 2*DefaultEvaluatorIterations)
	assert.Equal(t, 2*DefaultEvaluatorIterations, state.CurrentStep)
}

func TestEvaluatorOptimizer_GeneratorFailureSkipsEvaluator(t *testing.T) {
	chat := newScriptedChat().on("writer", failing)
	e, _ := newTestEngine(t, chat, []string{"writer", "critic"})

	state, err := e.Execute(context.Background(), Config{Type: TypeEvaluatorOptimizer, Agents: []string{"writer", "critic"}}, core.NewAgentContext("draft"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, state.Status)
	assert.Zero(t, chat.count("critic"))
}

func TestEvaluatorOptimizer_EvaluatorSeesGeneratorOutput(t *testing.T) {
	var seen atomic.Value
	chat := newScriptedChat().
		on("writer", func(context.Context, model.Request) (*model.Response, error) { return answer("poem v1"), nil }).
		on("critic", func(_ context.Context, req model.Request) (*model.Response, error) {
			seen.Store(req.LastUserText())
			return answer("APPROVED"), nil
		})
	e, _ := newTestEngine(t, chat, []string{"writer", "critic"})

	_, err := e.Execute(context.Background(), Config{Type: TypeEvaluatorOptimizer, Agents: []string{"writer", "critic"}, MaxSteps: 1}, core.NewAgentContext("draft"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "poem v1", seen.Load())
}

// Cancellation and timeout tests

func TestCancelWorkflow_Stopped(t *testing.T) {
	chat := newScriptedChat().on("a", blocking)
	e, _ := newTestEngine(t, chat, []string{"a", "b"})

	run, err := e.Start(context.Background(), Config{Type: TypeSequential, Agents: []string{"a", "b"}}, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, e.ActiveRuns(), run.ID())

	require.Eventually(t, func() bool { return chat.count("a") == 1 }, time.Second, time.Millisecond)
	assert.True(t, e.CancelWorkflow(run.ID()))

	state := run.Wait()
	assert.Equal(t, StatusStopped, state.Status)
	assert.Equal(t, core.KindCancelled, state.ErrorKind)
	assert.Zero(t, chat.count("b"))
	assert.NotContains(t, e.ActiveRuns(), run.ID())
	assert.False(t, e.CancelWorkflow(run.ID()))
}

func TestParentContextCancelStopsRun(t *testing.T) {
	chat := newScriptedChat().on("a", blocking)
	e, _ := newTestEngine(t, chat, []string{"a"})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := e.Start(ctx, Config{Type: TypeParallel, Agents: []string{"a"}}, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return chat.count("a") == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.Equal(t, StatusStopped, run.Wait().Status)
}

func TestWorkflowTimeout(t *testing.T) {
	chat := newScriptedChat().on("a", blocking)
	e, _ := newTestEngine(t, chat, []string{"a"})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a"}, Timeout: 30 * time.Millisecond}, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, state.Status)
	assert.Equal(t, core.KindTimeout, state.ErrorKind)
}

func TestAgentTimeoutUnderStopFails(t *testing.T) {
	chat := newScriptedChat().on("a", blocking)
	e, _ := newTestEngine(t, chat, []string{"a"})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a"}}, core.NewAgentContext("x"), RunOptions{AgentTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, state.Status)
	require.Len(t, state.Results, 1)
	assert.Equal(t, core.FinishTimeout, state.Results[0].FinishReason)
}

// Engine-level tests

func TestMaxConcurrentRunsKeepsRunsPending(t *testing.T) {
	release := make(chan struct{})
	chat := newScriptedChat().on("a", func(ctx context.Context, _ model.Request) (*model.Response, error) {
		select {
		case <-release:
			return answer("done"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	e, _ := newTestEngine(t, chat, []string{"a"}, func(o *Options) { o.MaxConcurrentRuns = 1 })
	cfg := Config{Type: TypeSequential, Agents: []string{"a"}}

	first, err := e.Start(context.Background(), cfg, core.NewAgentContext("1"), RunOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return chat.count("a") == 1 }, time.Second, time.Millisecond)

	second, err := e.Start(context.Background(), cfg, core.NewAgentContext("2"), RunOptions{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	state, ok := e.Status(second.ID())
	require.True(t, ok)
	assert.Equal(t, StatusPending, state.Status)

	close(release)
	assert.Equal(t, StatusCompleted, first.Wait().Status)
	assert.Equal(t, StatusCompleted, second.Wait().Status)
}

func TestArchivedStateAndMetrics(t *testing.T) {
	archive := store.NewInMemory[ExecutionState]()
	m := metrics.New(prometheus.NewRegistry())
	e, _ := newTestEngine(t, newScriptedChat(), []string{"a"}, func(o *Options) {
		o.Store = archive
		o.Metrics = m
	})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a"}}, core.NewAgentContext("x"), RunOptions{})
	require.NoError(t, err)

	archived, ok := e.Status(state.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, archived.Status)
	assert.Len(t, archived.Results, 1)

	_, ok = e.Status("unknown")
	assert.False(t, ok)
}

func TestMaxModelCallsSharedAcrossRun(t *testing.T) {
	e, _ := newTestEngine(t, newScriptedChat(), []string{"a", "b", "c"})

	state, err := e.Execute(context.Background(), Config{Type: TypeSequential, Agents: []string{"a", "b", "c"}}, core.NewAgentContext("x"), RunOptions{MaxModelCalls: 2})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, []string{"a", "b", "c"}, agentIDs(state.Results))
	assert.True(t, state.Results[2].Failed())
}
