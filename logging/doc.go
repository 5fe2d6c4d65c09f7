// Package logging provides a minimal logging interface and adapters for sessionmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the stores, components and server use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping go.uber.org/zap
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := sessionmesh.New(func(o *sessionmesh.Options) { o.Logger = logger })
//
// The design keeps the interface minimal to avoid vendor lock-in while
// supporting structured logging where available.
package logging
