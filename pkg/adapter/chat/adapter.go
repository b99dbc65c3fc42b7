// Package chat implements the TCP chat protocol adapter: the accept loop is
// inherited from the base adapter, and each accepted connection runs the
// per-session command state machine in its own goroutine.
package chat

import (
	"context"
	"net"

	"github.com/google/uuid"

	"github.com/lanchat/lanchat/pkg/adapter"
	"github.com/lanchat/lanchat/pkg/multicast"
)

// Recorder receives chat-level events for metrics. A nil recorder disables
// collection.
type Recorder interface {
	RecordCommand(name string)
	RecordDirectMessage()
	RecordGroupMessage()
}

// Config holds the chat adapter settings.
type Config struct {
	adapter.BaseConfig
}

// ChatAdapter serves the TCP chat protocol.
type ChatAdapter struct {
	*adapter.BaseAdapter

	mcast multicast.Sender
	rec   Recorder
}

// New creates a chat adapter. The multicast sender handles group fan-out;
// connMetrics and rec may be nil.
func New(cfg Config, mcast multicast.Sender, connMetrics adapter.MetricsRecorder, rec Recorder) *ChatAdapter {
	base := adapter.NewBaseAdapter(cfg.BaseConfig, "chat")
	base.Metrics = connMetrics
	return &ChatAdapter{
		BaseAdapter: base,
		mcast:       mcast,
		rec:         rec,
	}
}

// Serve runs the accept loop until ctx is cancelled.
func (a *ChatAdapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a)
}

// NewConnection wraps an accepted TCP connection in a session handler.
func (a *ChatAdapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return &Connection{
		id:    uuid.NewString(),
		conn:  conn,
		rt:    a.Runtime,
		mcast: a.mcast,
		rec:   a.rec,
	}
}
