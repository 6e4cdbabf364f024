package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentflow/core"
)

func okResult(text string, output any) core.AgentExecutionResult {
	return core.AgentExecutionResult{
		AgentID:      "a",
		Messages:     []core.Message{core.NewAssistantMessage(text)},
		Output:       output,
		FinishReason: core.FinishCompleted,
	}
}

func failed() core.AgentExecutionResult {
	return core.AgentExecutionResult{AgentID: "a", FinishReason: core.FinishError, Error: "boom", ErrorKind: core.KindExecution}
}

func TestKeywordStopCondition(t *testing.T) {
	cond := KeywordStopCondition("done", "  ", "FINISHED")

	assert.False(t, cond(1, nil))
	assert.False(t, cond(1, []core.AgentExecutionResult{okResult("still working", nil)}))
	assert.True(t, cond(1, []core.AgentExecutionResult{okResult("All DONE here", nil)}))
	assert.True(t, cond(2, []core.AgentExecutionResult{okResult("nope", nil), okResult("finished.", nil)}))
	assert.False(t, cond(2, []core.AgentExecutionResult{okResult("done", nil), okResult("again", nil)}))
}

func TestIterationStopCondition(t *testing.T) {
	cond := IterationStopCondition(3)
	assert.False(t, cond(2, nil))
	assert.True(t, cond(3, nil))
	assert.True(t, cond(4, nil))
}

func TestSuccessStopCondition(t *testing.T) {
	cond := SuccessStopCondition(func(res core.AgentExecutionResult) bool { return res.Output == "yes" })
	assert.False(t, cond(1, nil))
	assert.False(t, cond(1, []core.AgentExecutionResult{okResult("", "no")}))
	assert.True(t, cond(2, []core.AgentExecutionResult{okResult("", "no"), okResult("", "yes")}))

	assert.False(t, SuccessStopCondition(nil)(1, []core.AgentExecutionResult{okResult("", "yes")}))
}

func TestErrorThresholdStopCondition(t *testing.T) {
	cond := ErrorThresholdStopCondition(2)
	assert.False(t, cond(1, []core.AgentExecutionResult{failed()}))
	assert.False(t, cond(2, []core.AgentExecutionResult{failed(), okResult("", nil)}))
	assert.True(t, cond(3, []core.AgentExecutionResult{okResult("", nil), failed(), failed()}))
	assert.False(t, ErrorThresholdStopCondition(0)(1, []core.AgentExecutionResult{failed()}))
}

func TestStabilityStopCondition(t *testing.T) {
	cond := StabilityStopCondition(2)

	assert.False(t, cond(1, []core.AgentExecutionResult{okResult("", "v1")}))
	assert.False(t, cond(2, []core.AgentExecutionResult{okResult("", "v1"), okResult("", "v2")}))
	assert.True(t, cond(3, []core.AgentExecutionResult{okResult("", "v1"), okResult("", "v2"), okResult("", "v2")}))

	structured := []core.AgentExecutionResult{
		okResult("", map[string]any{"a": 1.0, "b": []any{"x"}}),
		okResult("", map[string]any{"b": []any{"x"}, "a": 1.0}),
	}
	assert.True(t, cond(2, structured))
}

func TestStabilityStopConditionFunc(t *testing.T) {
	sameLength := func(a, b any) bool {
		sa, _ := a.(string)
		sb, _ := b.(string)
		return len(sa) == len(sb)
	}
	cond := StabilityStopConditionFunc(3, sameLength)

	assert.True(t, cond(3, []core.AgentExecutionResult{okResult("", "abc"), okResult("", "xyz"), okResult("", "123")}))
	assert.False(t, cond(3, []core.AgentExecutionResult{okResult("", "abc"), okResult("", "xy"), okResult("", "123")}))
}

func TestCombinators(t *testing.T) {
	yes := func(int, []core.AgentExecutionResult) bool { return true }
	no := func(int, []core.AgentExecutionResult) bool { return false }

	assert.True(t, AnyOf(no, yes)(1, nil))
	assert.False(t, AnyOf(no, nil)(1, nil))
	assert.False(t, AnyOf()(1, nil))

	assert.True(t, AllOf(yes, yes)(1, nil))
	assert.False(t, AllOf(yes, no)(1, nil))
	assert.False(t, AllOf()(1, nil))

	cond := AllOf(IterationStopCondition(2), KeywordStopCondition("ok"))
	assert.False(t, cond(1, []core.AgentExecutionResult{okResult("ok", nil)}))
	assert.True(t, cond(2, []core.AgentExecutionResult{okResult("ok", nil)}))
}
