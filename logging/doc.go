// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the executor, workflow engine and loop controller use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger with component/run attributes and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	exec := executor.New(chat, func(o *executor.Options) { o.Logger = logger })
package logging
