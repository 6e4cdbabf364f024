package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentflow/core"
)

// MockReply is a scripted model step.
type MockReply struct {
	Text         string
	ToolCalls    []core.FunctionCall
	FinishReason FinishReason // defaults to stop, or tool-calls when ToolCalls is set
	Usage        *core.TokenUsage
	Err          error
}

// MockChatService is a lightweight in-memory ChatService useful for tests and
// examples. Replies are resolved in order: Handler, queued replies, canned
// responses keyed by the last user input, then "Mock response to: <input>".
type MockChatService struct {
	// Handler, when set, answers every call.
	Handler func(ctx context.Context, req Request) (*Response, error)
	// Delay simulates latency; the wait aborts when ctx ends.
	Delay time.Duration

	mu        sync.Mutex
	queue     []MockReply
	responses map[string]string
	calls     []Request
}

// NewMockChatService constructs an empty MockChatService.
func NewMockChatService() *MockChatService {
	return &MockChatService{responses: make(map[string]string)}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockChatService) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses == nil {
		m.responses = make(map[string]string)
	}
	m.responses[prompt] = response
}

// Enqueue appends scripted replies consumed one per call.
func (m *MockChatService) Enqueue(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, replies...)
}

// Calls returns the number of Send invocations.
func (m *MockChatService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Requests returns a copy of every request received.
func (m *MockChatService) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Send implements ChatService.
func (m *MockChatService) Send(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.Handler != nil {
		return m.Handler(ctx, req)
	}

	m.mu.Lock()
	var (
		reply  MockReply
		queued bool
	)
	if len(m.queue) > 0 {
		reply, m.queue, queued = m.queue[0], m.queue[1:], true
	}
	input := req.LastUserText()
	canned := m.responses[input]
	m.mu.Unlock()

	if !queued {
		reply.Text = canned
		if reply.Text == "" {
			reply.Text = fmt.Sprintf("Mock response to: %s", input)
		}
	}
	return reply.response()
}

func (r MockReply) response() (*Response, error) {
	if r.Err != nil {
		return nil, r.Err
	}

	msg := core.NewAssistantMessage(r.Text)
	for _, fc := range r.ToolCalls {
		msg.Parts = append(msg.Parts, core.FunctionCallPart{FunctionCall: fc})
	}

	reason := r.FinishReason
	if reason == "" {
		reason = FinishStop
		if len(r.ToolCalls) > 0 {
			reason = FinishToolCalls
		}
	}

	usage := r.Usage
	if usage == nil {
		usage = &core.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	}

	return &Response{Message: msg, Usage: usage, FinishReason: reason}, nil
}
