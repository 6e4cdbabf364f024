package core

import (
	"sync"
)

// ModelLimiter enforces a maximum number of allowed model calls per run. A
// single limiter is shared by every agent invocation of a workflow run, so the
// counter is safe for concurrent use by parallel branches.
type ModelLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewModelLimiter creates a new limiter with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// Increment increases the call counter and returns an execution error if the
// limit is exceeded. A nil limiter never refuses.
func (ml *ModelLimiter) Increment() error {
	if ml == nil {
		return nil
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.count++
	if ml.max > 0 && ml.count > ml.max {
		return NewError(KindExecution, "model.limit", "exceeded max model calls: %d", ml.max)
	}

	return nil
}

// Count returns the current number of calls made.
func (ml *ModelLimiter) Count() int {
	if ml == nil {
		return 0
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	return ml.count
}

// Remaining returns how many calls are left before hitting the limit.
func (ml *ModelLimiter) Remaining() int {
	if ml == nil {
		return -1
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max == 0 {
		return -1 // unlimited
	}

	return max(ml.max-ml.count, 0)
}
