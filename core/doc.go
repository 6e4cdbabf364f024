// Package core provides the foundational domain types shared by every
// orchestration component of agentflow:
//
//   - AgentDefinition / ModelConfig (immutable agent configuration)
//   - Message and its content Parts (conversation turns)
//   - AgentContext (the per-invocation conversational input)
//   - AgentExecutionResult (the outcome of one agent invocation)
//   - Error / ErrorKind (tagged errors, matched by kind)
//   - ModelLimiter (run-wide model call cap)
//
// The package holds no orchestration logic and performs no I/O. Components in
// catalog, executor, workflow and loop exchange only these values.
package core
