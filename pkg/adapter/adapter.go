// Package adapter defines the lifecycle contract shared by the server's
// protocol listeners and provides the common TCP accept loop they build on.
package adapter

import (
	"context"
	"net"

	"github.com/lanchat/lanchat/pkg/runtime"
)

// Adapter is a protocol listener managed by the server.
//
// Lifecycle: the server calls SetRuntime exactly once, then Serve, which
// blocks until the context is cancelled or an unrecoverable error occurs.
// Stop may be called concurrently with Serve and must be idempotent.
type Adapter interface {
	// Serve starts the listener and blocks until shutdown. Context
	// cancellation triggers graceful shutdown: stop accepting, drain
	// active connections up to the configured timeout, then force-close.
	Serve(ctx context.Context) error

	// SetRuntime injects the shared stores and session registry. Called
	// once before Serve.
	SetRuntime(rt *runtime.Runtime)

	// Stop initiates graceful shutdown. Safe to call multiple times and
	// concurrently with Serve.
	Stop(ctx context.Context) error

	// Protocol returns the listener's name for logging ("chat",
	// "discovery").
	Protocol() string

	// Port returns the configured listen port.
	Port() int
}

// ConnectionHandler is one accepted connection's serve loop. It blocks until
// the connection closes or the context is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory turns accepted TCP connections into protocol handlers.
// Adapters implement it and pass themselves to BaseAdapter.ServeWithFactory.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// MetricsRecorder receives connection lifecycle events. A nil recorder
// disables collection.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}
