package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
)

func TestRecordAgentExecution(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAgentExecution(core.AgentExecutionResult{
		AgentID:      "writer",
		FinishReason: core.FinishCompleted,
		Metadata:     core.ExecutionMetadata{ExecutionTime: time.Second, Usage: core.TokenUsage{PromptTokens: 10, CompletionTokens: 4}},
	})
	m.RecordAgentExecution(core.AgentExecutionResult{AgentID: "writer", FinishReason: core.FinishTimeout})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentExecutions.WithLabelValues("writer", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentExecutions.WithLabelValues("writer", "timeout")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.agentTokens.WithLabelValues("writer", "prompt")))
}

func TestWorkflowAndLoopGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WorkflowStarted()
	m.WorkflowStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.workflowsActive))

	m.WorkflowFinished("sequential", "completed", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflowsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflowRuns.WithLabelValues("sequential", "completed")))

	m.LoopStarted()
	m.LoopIteration("critic", false)
	m.LoopIteration("critic", true)
	m.LoopFinished()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.loopsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loopIterations.WithLabelValues("critic", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAgentExecution(core.AgentExecutionResult{})
		m.WorkflowStarted()
		m.WorkflowFinished("parallel", "failed", 0)
		m.LoopStarted()
		m.LoopIteration("a", true)
		m.LoopFinished()
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WorkflowStarted()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "agentflow_workflow_runs_active 1"))
}
