package core

import (
	"time"
)

// FinishReason records why an agent invocation ended.
type FinishReason string

const (
	FinishCompleted FinishReason = "completed"
	FinishMaxSteps  FinishReason = "max_steps"
	FinishTimeout   FinishReason = "timeout"
	FinishError     FinishReason = "error"
)

// TokenUsage tracks tokens consumed by model calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ExecutionMetadata summarises the work done by one invocation.
type ExecutionMetadata struct {
	Steps         int           `json:"steps"`
	ToolCalls     int           `json:"tool_calls"`
	Usage         TokenUsage    `json:"usage"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// AgentExecutionResult is the outcome of one agent invocation. Error is set
// exactly when FinishReason is FinishTimeout or FinishError; cancellation is
// reported as FinishError with ErrorKind KindCancelled.
type AgentExecutionResult struct {
	AgentID      string            `json:"agent_id"`
	Messages     []Message         `json:"messages"`
	Output       any               `json:"output,omitempty"`
	Metadata     ExecutionMetadata `json:"metadata"`
	FinishReason FinishReason      `json:"finish_reason"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Failed reports whether the invocation ended in error or timeout.
func (r AgentExecutionResult) Failed() bool {
	return r.FinishReason == FinishError || r.FinishReason == FinishTimeout
}

// Cancelled reports whether the invocation was stopped by cancellation.
func (r AgentExecutionResult) Cancelled() bool {
	return r.FinishReason == FinishError && r.ErrorKind == KindCancelled
}

// Err rebuilds a tagged error from a failed result, nil otherwise.
func (r AgentExecutionResult) Err() error {
	if !r.Failed() {
		return nil
	}
	return &Error{Kind: r.ErrorKind, Op: "agent " + r.AgentID, Message: r.Error}
}

// Text returns the text of the last produced message.
func (r AgentExecutionResult) Text() string { return LastText(r.Messages) }

// FailedResult builds a result for an invocation that failed with err.
// Timeouts map to FinishTimeout, everything else to FinishError.
func FailedResult(agentID string, err error, started time.Time) AgentExecutionResult {
	kind := KindOf(err)
	reason := FinishError
	if kind == KindTimeout {
		reason = FinishTimeout
	}
	return AgentExecutionResult{
		AgentID:      agentID,
		FinishReason: reason,
		Error:        err.Error(),
		ErrorKind:    kind,
		Metadata:     ExecutionMetadata{ExecutionTime: time.Since(started)},
		Timestamp:    time.Now().UTC(),
	}
}
