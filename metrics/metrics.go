// Package metrics provides Prometheus collectors for agent executions,
// workflow runs and loop iterations.
//
// Collectors are owned by a Metrics value and registered on an injected
// prometheus.Registerer, so independent engines (and tests) never share
// global state. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentflow/core"
)

const namespace = "agentflow"

// Metrics groups every collector used by the orchestration components.
type Metrics struct {
	agentExecutions  *prometheus.CounterVec
	agentDuration    *prometheus.HistogramVec
	agentTokens      *prometheus.CounterVec
	workflowRuns     *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	workflowsActive  prometheus.Gauge
	loopIterations   *prometheus.CounterVec
	loopsActive      prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		agentExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_executions_total",
				Help:      "Total number of agent executions",
			},
			[]string{"agent", "finish_reason"},
		),
		agentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_execution_duration_seconds",
				Help:      "Duration of agent executions in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		agentTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_tokens_total",
				Help:      "Total tokens consumed by agent executions",
			},
			[]string{"agent", "type"}, // type: prompt, completion
		),
		workflowRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_total",
				Help:      "Total number of finished workflow runs",
			},
			[]string{"type", "status"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_run_duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"type"},
		),
		workflowsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflow_runs_active",
				Help:      "Number of workflow runs not yet terminal",
			},
		),
		loopIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_iterations_total",
				Help:      "Total number of loop iterations",
			},
			[]string{"agent", "outcome"}, // outcome: success, error
		),
		loopsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "loops_active",
				Help:      "Number of running loops",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}

	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.agentExecutions, m.agentDuration, m.agentTokens,
		m.workflowRuns, m.workflowDuration, m.workflowsActive,
		m.loopIterations, m.loopsActive,
	}
}

// RecordAgentExecution records one finished agent invocation.
func (m *Metrics) RecordAgentExecution(res core.AgentExecutionResult) {
	if m == nil {
		return
	}
	m.agentExecutions.WithLabelValues(res.AgentID, string(res.FinishReason)).Inc()
	m.agentDuration.WithLabelValues(res.AgentID).Observe(res.Metadata.ExecutionTime.Seconds())
	m.agentTokens.WithLabelValues(res.AgentID, "prompt").Add(float64(res.Metadata.Usage.PromptTokens))
	m.agentTokens.WithLabelValues(res.AgentID, "completion").Add(float64(res.Metadata.Usage.CompletionTokens))
}

// WorkflowStarted marks a run as active.
func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.workflowsActive.Inc()
}

// WorkflowFinished records a terminal run.
func (m *Metrics) WorkflowFinished(workflowType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.workflowsActive.Dec()
	m.workflowRuns.WithLabelValues(workflowType, status).Inc()
	m.workflowDuration.WithLabelValues(workflowType).Observe(dur.Seconds())
}

// LoopStarted marks a loop as running.
func (m *Metrics) LoopStarted() {
	if m == nil {
		return
	}
	m.loopsActive.Inc()
}

// LoopIteration records the outcome of one loop iteration.
func (m *Metrics) LoopIteration(agentID string, failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.loopIterations.WithLabelValues(agentID, outcome).Inc()
}

// LoopFinished marks a loop as no longer running.
func (m *Metrics) LoopFinished() {
	if m == nil {
		return
	}
	m.loopsActive.Dec()
}

// Handler serves the metrics gathered by g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
