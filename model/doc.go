// Package model defines the provider-agnostic boundary between agentflow and
// the services that actually talk to language models.
//
// The executor only depends on ChatService, a single-step request/response
// call. Everything else here is wiring:
//   - MockChatService for tests and examples
//   - Router to pick a service by the agent's provider
//   - RateLimited to throttle calls with golang.org/x/time/rate
//
// Vendor adapters live in the openai and anthropic sub-packages.
package model
