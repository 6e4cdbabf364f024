package workflow

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/agentflow/core"
)

// Status is the lifecycle phase of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusStopped:
		return true
	default:
		return false
	}
}

// statusFor maps the error that ended a run onto its terminal status.
func statusFor(err error) Status {
	if err == nil {
		return StatusCompleted
	}
	switch core.KindOf(err) {
	case core.KindCancelled:
		return StatusStopped
	case core.KindTimeout:
		return StatusTimeout
	default:
		return StatusFailed
	}
}

// ExecutionState is the record of one workflow run. Values returned by the
// engine are snapshots and safe to keep.
type ExecutionState struct {
	ID          string                      `json:"id"`
	Config      Config                      `json:"config"`
	Status      Status                      `json:"status"`
	StartTime   time.Time                   `json:"start_time"`
	EndTime     *time.Time                  `json:"end_time,omitempty"`
	CurrentStep int                         `json:"current_step"`
	Results     []core.AgentExecutionResult `json:"results"`
	Error       string                      `json:"error,omitempty"`
	ErrorKind   core.ErrorKind              `json:"error_kind,omitempty"`
}

// Duration returns the elapsed run time, up to now for unfinished runs.
func (s ExecutionState) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// Run is a handle to a started workflow.
type Run struct {
	mu     sync.RWMutex
	state  ExecutionState
	cancel context.CancelCauseFunc
	done   chan struct{}
	notify func(ExecutionState)
}

func newRun(id string, cfg Config, cancel context.CancelCauseFunc, notify func(ExecutionState)) *Run {
	return &Run{
		state: ExecutionState{
			ID:        id,
			Config:    cfg,
			Status:    StatusPending,
			StartTime: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
		notify: notify,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.state.ID }

// Done is closed once the run reached a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is terminal and returns its final state.
func (r *Run) Wait() ExecutionState {
	<-r.done
	return r.State()
}

// State returns a snapshot of the current state.
func (r *Run) State() ExecutionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.state
	s.Results = slices.Clone(r.state.Results)
	if r.state.EndTime != nil {
		t := *r.state.EndTime
		s.EndTime = &t
	}
	return s
}

// Cancel requests the run to stop. It is a no-op on terminal runs.
func (r *Run) Cancel() {
	r.cancel(core.NewError(core.KindCancelled, "workflow.cancel", "workflow %s cancelled", r.state.ID))
}

// update mutates the state under the lock and publishes a snapshot.
func (r *Run) update(fn func(s *ExecutionState)) {
	r.mu.Lock()
	fn(&r.state)
	r.mu.Unlock()

	if r.notify != nil {
		r.notify(r.State())
	}
}

func (r *Run) results() []core.AgentExecutionResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.state.Results)
}

func (r *Run) nextStep() {
	r.update(func(s *ExecutionState) { s.CurrentStep++ })
}

func (r *Run) appendResult(res core.AgentExecutionResult) {
	r.update(func(s *ExecutionState) { s.Results = append(s.Results, res) })
}

func (r *Run) finish(err error) {
	r.update(func(s *ExecutionState) {
		now := time.Now().UTC()
		s.EndTime = &now
		s.Status = statusFor(err)
		if err != nil {
			s.Error = err.Error()
			s.ErrorKind = core.KindOf(err)
		}
	})
}
