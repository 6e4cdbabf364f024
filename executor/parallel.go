package executor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentflow/core"
)

// ParallelOptions tunes ExecuteParallel.
type ParallelOptions struct {
	ExecuteOptions
	// MaxConcurrency is the batch size; <= 0 runs all agents in one batch.
	MaxConcurrency int
}

// ExecuteParallel runs agents in consecutive batches of MaxConcurrency. Each
// batch runs fully in parallel and the next batch starts only once every
// member of the current one has settled. Results are returned in input order
// and every agent receives its own clone of actx.
func (e *Executor) ExecuteParallel(ctx context.Context, agents []core.AgentDefinition, actx core.AgentContext, opts ParallelOptions) []core.AgentExecutionResult {
	results := make([]core.AgentExecutionResult, len(agents))

	size := opts.MaxConcurrency
	if size <= 0 || size > len(agents) {
		size = len(agents)
	}

	for start := 0; start < len(agents); start += size {
		end := min(start+size, len(agents))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = e.Execute(ctx, agents[i], actx.Clone(), opts.ExecuteOptions)
				return nil
			})
		}
		_ = g.Wait()

		e.opts.Logger.Debug("executor.parallel.batch", "from", start, "to", end, "total", len(agents))
	}

	return results
}
