package workflow

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/hupe1980/agentflow/core"
)

// Type selects the control algorithm of a workflow.
type Type string

const (
	TypeSequential         Type = "sequential"
	TypeParallel           Type = "parallel"
	TypeRouting            Type = "routing"
	TypeEvaluatorOptimizer Type = "evaluator-optimizer"
)

// minAgents is the number of agents each pattern needs.
func (t Type) minAgents() (int, bool) {
	switch t {
	case TypeSequential, TypeParallel:
		return 1, true
	case TypeRouting, TypeEvaluatorOptimizer:
		return 2, true
	default:
		return 0, false
	}
}

// Pattern parameter keys read from Config.Params.
const (
	ParamMaxConcurrency  = "maxConcurrency"
	ParamRoutingStrategy = "routingStrategy"

	// RoutingStrict turns a missing or invalid routing decision into a failure.
	RoutingStrict = "strict"
)

// Shared data keys written into agent contexts while a workflow runs.
const (
	KeyPreviousOutput  = "previousOutput"
	KeyPreviousAgent   = "previousAgent"
	KeySelectedAgent   = "selectedAgent"
	KeyGeneratorOutput = "generatorOutput"
	KeyFeedback        = "feedback"
	KeyIteration       = "iteration"
)

// DefaultEvaluatorIterations bounds evaluator-optimizer runs without MaxSteps.
const DefaultEvaluatorIterations = 3

// Config is the declarative description of a workflow.
type Config struct {
	Name   string   `json:"name" yaml:"name"`
	Type   Type     `json:"type" yaml:"type"`
	Agents []string `json:"agents" yaml:"agents"`
	// MaxSteps caps sequential steps and evaluator-optimizer iterations.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps"`
	// Timeout bounds the whole run; in-flight agent calls are cancelled when it elapses.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	// StopWhen is consulted with the results accumulated so far.
	StopWhen func(results []core.AgentExecutionResult) bool `json:"-" yaml:"-"`
	Params   map[string]any                                `json:"params,omitempty" yaml:"params"`
}

// Validate checks the structural constraints that do not need the catalog.
func (c Config) Validate() error {
	const op = "workflow.validate"

	minAgents, ok := c.Type.minAgents()
	if !ok {
		return core.NewError(core.KindInvalidConfig, op, "unknown workflow type %q", c.Type)
	}
	if len(c.Agents) < minAgents {
		return core.NewError(core.KindInvalidConfig, op, "%s workflow requires at least %d agent(s), got %d", c.Type, minAgents, len(c.Agents))
	}
	if c.MaxSteps < 0 {
		return core.NewError(core.KindInvalidConfig, op, "max steps must not be negative")
	}
	if c.Timeout < 0 {
		return core.NewError(core.KindInvalidConfig, op, "timeout must not be negative")
	}
	if _, err := c.maxConcurrency(); err != nil {
		return core.WrapError(core.KindInvalidConfig, op, err)
	}
	return nil
}

func (c Config) strictRouting() bool {
	s, _ := c.Params[ParamRoutingStrategy].(string)
	return s == RoutingStrict
}

// maxConcurrency reads the parallel batch size. Values decoded from JSON or
// YAML arrive as float64 or int, and a numeric string is accepted too.
func (c Config) maxConcurrency() (int, error) {
	v, ok := c.Params[ParamMaxConcurrency]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be an integer, got %v", ParamMaxConcurrency, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", ParamMaxConcurrency, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s has unsupported type %T", ParamMaxConcurrency, v)
	}
}

// ErrorRecovery selects how a failed agent step affects the run.
type ErrorRecovery string

const (
	// RecoveryStop fails the run on the first failed step.
	RecoveryStop ErrorRecovery = "stop"
	// RecoveryContinue records the failure and proceeds.
	RecoveryContinue ErrorRecovery = "continue"
	// RecoveryRetry re-attempts a failed step, then behaves like RecoveryStop.
	RecoveryRetry ErrorRecovery = "retry"
)

// DefaultMaxRetries applies to RecoveryRetry when MaxRetries is unset.
const DefaultMaxRetries = 3

// RunOptions tunes a single workflow run.
type RunOptions struct {
	ErrorRecovery ErrorRecovery
	MaxRetries    int
	RetryDelay    time.Duration
	// AgentTimeout bounds every agent invocation of the run.
	AgentTimeout time.Duration
	// MaxModelCalls caps model calls across the whole run; 0 is unlimited.
	MaxModelCalls int
	// OnProgress receives a state snapshot after every transition and result.
	OnProgress func(state ExecutionState)
	// OnStep forwards per-agent model step progress.
	OnStep func(step, maxSteps int)
}

func (o RunOptions) withDefaults() (RunOptions, error) {
	switch o.ErrorRecovery {
	case "":
		o.ErrorRecovery = RecoveryStop
	case RecoveryStop, RecoveryContinue, RecoveryRetry:
	default:
		return o, core.NewError(core.KindInvalidConfig, "workflow.options", "unknown error recovery %q", o.ErrorRecovery)
	}
	if o.MaxRetries < 0 {
		return o, core.NewError(core.KindInvalidConfig, "workflow.options", "max retries must not be negative")
	}
	if o.ErrorRecovery == RecoveryRetry && o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o, nil
}
