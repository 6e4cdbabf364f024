package loop

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/hupe1980/agentflow/core"
)

// KeywordStopCondition fires when the last message of the latest result
// contains any of keywords, ignoring case.
func KeywordStopCondition(keywords ...string) StopCondition {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			lowered = append(lowered, strings.ToLower(k))
		}
	}

	return func(_ int, results []core.AgentExecutionResult) bool {
		if len(results) == 0 {
			return false
		}
		text := strings.ToLower(core.LastText(results[len(results)-1].Messages))
		for _, k := range lowered {
			if strings.Contains(text, k) {
				return true
			}
		}
		return false
	}
}

// IterationStopCondition fires once n iterations have completed.
func IterationStopCondition(n int) StopCondition {
	return func(iteration int, _ []core.AgentExecutionResult) bool {
		return iteration >= n
	}
}

// SuccessStopCondition fires when pred accepts the latest result.
func SuccessStopCondition(pred func(res core.AgentExecutionResult) bool) StopCondition {
	return func(_ int, results []core.AgentExecutionResult) bool {
		if len(results) == 0 || pred == nil {
			return false
		}
		return pred(results[len(results)-1])
	}
}

// ErrorThresholdStopCondition fires when the last n results all failed.
func ErrorThresholdStopCondition(n int) StopCondition {
	return func(_ int, results []core.AgentExecutionResult) bool {
		if n <= 0 || len(results) < n {
			return false
		}
		for _, r := range results[len(results)-n:] {
			if !r.Failed() {
				return false
			}
		}
		return true
	}
}

// StabilityStopCondition fires when the outputs of the last n results are
// structurally equal, compared by their JSON encoding.
func StabilityStopCondition(n int) StopCondition {
	return StabilityStopConditionFunc(n, jsonEqual)
}

// StabilityStopConditionFunc is StabilityStopCondition with a custom output
// comparator.
func StabilityStopConditionFunc(n int, equal func(a, b any) bool) StopCondition {
	return func(_ int, results []core.AgentExecutionResult) bool {
		if n <= 0 || len(results) < n {
			return false
		}
		window := results[len(results)-n:]
		first := window[0].Output
		for _, r := range window[1:] {
			if !equal(first, r.Output) {
				return false
			}
		}
		return true
	}
}

func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// AnyOf fires when at least one of conds fires.
func AnyOf(conds ...StopCondition) StopCondition {
	return func(iteration int, results []core.AgentExecutionResult) bool {
		for _, c := range conds {
			if c != nil && c(iteration, results) {
				return true
			}
		}
		return false
	}
}

// AllOf fires when every one of conds fires. An empty AllOf never fires.
func AllOf(conds ...StopCondition) StopCondition {
	return func(iteration int, results []core.AgentExecutionResult) bool {
		if len(conds) == 0 {
			return false
		}
		for _, c := range conds {
			if c == nil || !c(iteration, results) {
				return false
			}
		}
		return true
	}
}
