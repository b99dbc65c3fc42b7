package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanchat/lanchat/internal/logger"
	"github.com/lanchat/lanchat/pkg/runtime"
)

// BaseConfig holds the listener settings common to all TCP adapters.
type BaseConfig struct {
	// BindAddress is the IP to bind to; empty binds all interfaces.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections limits concurrent clients. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the graceful-shutdown drain before active
	// connections are force-closed.
	ShutdownTimeout time.Duration
}

// BaseAdapter implements the shared TCP lifecycle: listen, accept, hand each
// connection to a ConnectionFactory, and tear everything down gracefully on
// context cancellation. Protocol adapters embed it.
//
// All exported methods are safe for concurrent use; shutdown is idempotent.
type BaseAdapter struct {
	Config BaseConfig

	// Runtime is the shared server state, set via SetRuntime before Serve.
	Runtime *runtime.Runtime

	// Metrics optionally records connection lifecycle events.
	Metrics MetricsRecorder

	// ListenerReady is closed once the listener accepts connections. Tests
	// use it to synchronize with startup.
	ListenerReady chan struct{}

	protocolName string

	listenerMu sync.RWMutex
	listener   net.Listener

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// shutdownCtx is cancelled at shutdown so connection serve loops can
	// abort in-flight work.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// liveConns maps remote address to net.Conn for deadline interruption
	// and forced closure during shutdown.
	liveConns sync.Map

	// connSemaphore bounds concurrent connections; nil when unlimited.
	connSemaphore chan struct{}
}

// NewBaseAdapter returns a stopped adapter; call ServeWithFactory to start.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		ListenerReady:  make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancel,
		connSemaphore:  sem,
	}
}

// SetRuntime stores the shared runtime for connection handlers.
func (b *BaseAdapter) SetRuntime(rt *runtime.Runtime) {
	b.Runtime = rt
}

// ServeWithFactory runs the accept loop, delegating per-connection work to
// factory. It returns nil on graceful shutdown.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	addr := fmt.Sprintf("%s:%d", b.Config.BindAddress, b.Config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: listen on %s: %w", b.protocolName, addr, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocolName+" listening", "port", b.Config.Port)

	go func() {
		<-ctx.Done()
		b.initiateShutdown()
	}()

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.shutdown:
				return b.drain()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}
			select {
			case <-b.shutdown:
				return b.drain()
			default:
				logger.Debug(b.protocolName+" accept error", logger.Err(err))
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		b.activeConns.Add(1)
		active := b.connCount.Add(1)
		remote := tcpConn.RemoteAddr().String()
		b.liveConns.Store(remote, tcpConn)

		if b.Metrics != nil {
			b.Metrics.RecordConnectionAccepted()
			b.Metrics.SetActiveConnections(active)
		}
		logger.Debug(b.protocolName+" connection accepted",
			"address", remote, "active", active)

		handler := factory.NewConnection(tcpConn)
		go func(remote string) {
			defer func() {
				b.liveConns.Delete(remote)
				b.activeConns.Done()
				remaining := b.connCount.Add(-1)
				if b.connSemaphore != nil {
					<-b.connSemaphore
				}
				if b.Metrics != nil {
					b.Metrics.RecordConnectionClosed()
					b.Metrics.SetActiveConnections(remaining)
				}
				logger.Debug(b.protocolName+" connection closed",
					"address", remote, "active", remaining)
			}()
			handler.Serve(b.shutdownCtx)
		}(remote)
	}
}

// initiateShutdown stops the accept loop, closes the listener, interrupts
// blocked reads, and cancels in-flight request contexts. Idempotent.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")
		close(b.shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			_ = b.listener.Close()
		}
		b.listenerMu.Unlock()

		// Unblock pending reads so serve loops notice the shutdown.
		deadline := time.Now().Add(100 * time.Millisecond)
		b.liveConns.Range(func(_, v any) bool {
			if conn, ok := v.(net.Conn); ok {
				_ = conn.SetReadDeadline(deadline)
			}
			return true
		})

		b.cancelRequests()
	})
}

// drain waits for active connections up to ShutdownTimeout, then force-closes
// the stragglers.
func (b *BaseAdapter) drain() error {
	active := b.connCount.Load()
	logger.Info(b.protocolName+" draining connections",
		"active", active, "timeout", b.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " shutdown complete")
		return nil
	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.connCount.Load()
		b.forceClose()
		return fmt.Errorf("%s: shutdown timeout, %d connections force-closed",
			b.protocolName, remaining)
	}
}

func (b *BaseAdapter) forceClose() {
	b.liveConns.Range(func(key, v any) bool {
		conn := v.(net.Conn)
		if err := conn.Close(); err == nil {
			logger.Debug("force-closed connection", "address", key)
			if b.Metrics != nil {
				b.Metrics.RecordConnectionForceClosed()
			}
		}
		return true
	})
}

// Stop initiates shutdown and waits for active connections. A nil context
// falls back to the configured ShutdownTimeout.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()
	if ctx == nil {
		return b.drain()
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn(b.protocolName+" stop cancelled",
			"active", b.connCount.Load(), logger.Err(ctx.Err()))
		return ctx.Err()
	}
}

// ActiveConnections returns the current connection count.
func (b *BaseAdapter) ActiveConnections() int32 {
	return b.connCount.Load()
}

// ListenerAddr blocks until the listener is ready and returns its address.
func (b *BaseAdapter) ListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the adapter's name.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}
