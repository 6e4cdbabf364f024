package loop

import (
	"time"

	"github.com/hupe1980/agentflow/core"
)

// Shared data keys written into the context of every iteration after the
// first.
const (
	KeyPreviousOutput    = "previousOutput"
	KeyPreviousIteration = "previousIteration"
	KeyIterationResults  = "iterationResults"
)

// StopCondition decides after an iteration whether the loop is done.
// iteration is 1-based; results holds every iteration result so far.
type StopCondition func(iteration int, results []core.AgentExecutionResult) bool

// Config bounds and steers a loop.
type Config struct {
	// MaxIterations is the hard iteration cap. Required.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// MinIterations is the number of iterations that always run before
	// StopWhen is consulted.
	MinIterations int `json:"min_iterations,omitempty" yaml:"min_iterations"`
	// IterationTimeout bounds every single agent invocation.
	IterationTimeout time.Duration `json:"iteration_timeout,omitempty" yaml:"iteration_timeout"`
	// TotalTimeout bounds the whole loop, including in-flight invocations.
	TotalTimeout time.Duration `json:"total_timeout,omitempty" yaml:"total_timeout"`
	// Interval is the pause between two iterations.
	Interval time.Duration `json:"interval,omitempty" yaml:"interval"`

	StopWhen StopCondition `json:"-" yaml:"-"`

	OnIteration func(iteration int, res core.AgentExecutionResult) `json:"-" yaml:"-"`
	OnComplete  func(state State)                                  `json:"-" yaml:"-"`
	OnError     func(iteration int, err error)                     `json:"-" yaml:"-"`
}

// Validate reports the first configuration problem as a KindInvalidConfig error.
func (c Config) Validate() error {
	const op = "loop.validate"

	switch {
	case c.MaxIterations <= 0:
		return core.NewError(core.KindInvalidConfig, op, "max iterations must be positive, got %d", c.MaxIterations)
	case c.MinIterations < 0:
		return core.NewError(core.KindInvalidConfig, op, "min iterations must not be negative")
	case c.MinIterations > c.MaxIterations:
		return core.NewError(core.KindInvalidConfig, op, "min iterations %d exceed max iterations %d", c.MinIterations, c.MaxIterations)
	case c.IterationTimeout < 0, c.TotalTimeout < 0, c.Interval < 0:
		return core.NewError(core.KindInvalidConfig, op, "durations must not be negative")
	}
	return nil
}

// StopReason explains why a loop ended.
type StopReason string

const (
	StopReasonCondition     StopReason = "condition"
	StopReasonMaxIterations StopReason = "max_iterations"
	StopReasonTimeout       StopReason = "timeout"
	StopReasonStopped       StopReason = "stopped"
	StopReasonError         StopReason = "error"
)

// reasonFor maps the error that ended a loop onto its stop reason.
func reasonFor(err error) StopReason {
	switch core.KindOf(err) {
	case core.KindCancelled:
		return StopReasonStopped
	case core.KindTimeout:
		return StopReasonTimeout
	default:
		return StopReasonError
	}
}
