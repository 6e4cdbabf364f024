package loop

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/agentflow/core"
)

// State is the record of one loop. Values returned by the controller are
// snapshots and safe to keep.
type State struct {
	ID               string                      `json:"id"`
	AgentID          string                      `json:"agent_id"`
	Iteration        int                         `json:"iteration"`
	StartTime        time.Time                   `json:"start_time"`
	IsRunning        bool                        `json:"is_running"`
	IsStopped        bool                        `json:"is_stopped"`
	IterationResults []core.AgentExecutionResult `json:"iteration_results"`
	TotalTime        time.Duration               `json:"total_time"`
	StopReason       StopReason                  `json:"stop_reason,omitempty"`
	Error            string                      `json:"error,omitempty"`
	ErrorKind        core.ErrorKind              `json:"error_kind,omitempty"`
}

// LastResult returns the result of the latest iteration.
func (s State) LastResult() (core.AgentExecutionResult, bool) {
	if len(s.IterationResults) == 0 {
		return core.AgentExecutionResult{}, false
	}
	return s.IterationResults[len(s.IterationResults)-1], true
}

func (s State) clone() State {
	s.IterationResults = slices.Clone(s.IterationResults)
	return s
}

// Handle controls a loop started with Controller.Start.
type Handle struct {
	mu     sync.RWMutex
	state  State
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func newHandle(id, agentID string, cancel context.CancelCauseFunc) *Handle {
	return &Handle{
		state: State{
			ID:        id,
			AgentID:   agentID,
			StartTime: time.Now().UTC(),
			IsRunning: true,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the loop id.
func (h *Handle) ID() string { return h.state.ID }

// Done is closed once the loop has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the loop has ended and returns its final state.
func (h *Handle) Wait() State {
	<-h.done
	return h.State()
}

// State returns a snapshot of the loop.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.clone()
}

// Stop requests the loop to end. No further iteration starts and the
// in-flight one is cancelled.
func (h *Handle) Stop() {
	h.cancel(core.NewError(core.KindCancelled, "loop.stop", "loop %s stopped", h.state.ID))
}

func (h *Handle) results() []core.AgentExecutionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.state.IterationResults)
}

func (h *Handle) record(iteration int, res core.AgentExecutionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Iteration = iteration
	h.state.IterationResults = append(h.state.IterationResults, res)
	h.state.TotalTime = time.Since(h.state.StartTime)
}

func (h *Handle) finish(reason StopReason, err error) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.IsRunning = false
	h.state.IsStopped = reason == StopReasonStopped
	h.state.StopReason = reason
	h.state.TotalTime = time.Since(h.state.StartTime)
	if err != nil {
		h.state.Error = err.Error()
		h.state.ErrorKind = core.KindOf(err)
	}
	return h.state.clone()
}
