// Package workflow implements the WorkflowEngine: declarative multi-agent
// runs in one of four patterns.
//
//   - sequential: agents run in order; each receives the previous output
//     (shared data "previousOutput", "previousAgent") and message history.
//   - parallel: agents fan out through the executor in bounded batches.
//   - routing: the first agent picks the handler ("selectedAgent" in its
//     structured output); the second agent is the fallback.
//   - evaluator-optimizer: a generator and an evaluator alternate until a
//     stop predicate fires or the iteration budget is spent.
//
// Runs move through pending, running and one terminal status (completed,
// failed, timeout or stopped). Failed steps are handled according to the
// run's ErrorRecovery policy.
package workflow
