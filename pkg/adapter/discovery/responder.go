// Package discovery implements the UDP multicast discovery responder.
//
// Clients that do not know the server's address send a DISCOVER record to
// the well-known multicast group (default 239.0.0.1:5000). The responder
// answers each one with a unicast SERVER_INFO record carrying the server's
// LAN IPv4 address and chat TCP port. Everything else arriving on the socket
// is dropped silently.
package discovery

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/lanchat/lanchat/internal/logger"
	"github.com/lanchat/lanchat/internal/protocol/tlv"
	"github.com/lanchat/lanchat/pkg/runtime"
)

// Recorder counts discovery replies for metrics. Nil disables collection.
type Recorder interface {
	RecordDiscoveryReply()
}

// Config holds the responder settings.
type Config struct {
	// GroupAddress is the discovery multicast group.
	GroupAddress string

	// Port is the UDP port the responder binds.
	Port int

	// ChatPort is the TCP port advertised in SERVER_INFO replies.
	ChatPort int
}

// Responder is the discovery adapter. It satisfies the same lifecycle
// contract as the TCP adapters even though it owns a single UDP socket.
type Responder struct {
	cfg Config
	rec Recorder

	// outboundIP resolves the advertised address; swapped in tests.
	outboundIP func() (net.IP, error)

	mu       sync.Mutex
	pc       net.PacketConn
	stopped  bool
	stopOnce sync.Once

	// Ready is closed once the socket is bound. Tests synchronize on it.
	Ready chan struct{}
}

// New creates a discovery responder.
func New(cfg Config, rec Recorder) *Responder {
	return &Responder{
		cfg:        cfg,
		rec:        rec,
		outboundIP: probeOutboundIP,
		Ready:      make(chan struct{}),
	}
}

// SetRuntime is part of the adapter contract; discovery needs no shared
// state.
func (r *Responder) SetRuntime(*runtime.Runtime) {}

// Protocol returns the adapter name.
func (r *Responder) Protocol() string { return "discovery" }

// Port returns the UDP port the responder binds.
func (r *Responder) Port() int { return r.cfg.Port }

// Serve binds the discovery socket, joins the multicast group on every
// multicast-capable interface, and answers DISCOVER datagrams until the
// context is cancelled. Send failures are logged and ignored; the responder
// never exits on its own.
func (r *Responder) Serve(ctx context.Context) error {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", r.cfg.Port))
	if err != nil {
		return fmt.Errorf("discovery: bind port %d: %w", r.cfg.Port, err)
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		_ = pc.Close()
		return nil
	}
	r.pc = pc
	r.mu.Unlock()
	close(r.Ready)

	r.joinGroup(pc)
	logger.Info("discovery listening",
		"group", r.cfg.GroupAddress, "port", r.cfg.Port)

	go func() {
		<-ctx.Done()
		_ = r.Stop(context.Background())
	}()

	buf := make([]byte, 2048)
	for {
		n, src, err := pc.ReadFrom(buf)
		if err != nil {
			r.mu.Lock()
			stopped := r.stopped
			r.mu.Unlock()
			if stopped || ctx.Err() != nil {
				logger.Info("discovery shutdown complete")
				return nil
			}
			logger.Debug("discovery read error", logger.Err(err))
			continue
		}

		reply, ok := r.handleDatagram(buf[:n])
		if !ok {
			continue
		}
		if _, err := pc.WriteTo(reply, src); err != nil {
			logger.Debug("discovery reply failed",
				"address", src, logger.Err(err))
			continue
		}
		if r.rec != nil {
			r.rec.RecordDiscoveryReply()
		}
		logger.Debug("discovery reply sent", "address", src)
	}
}

// Stop closes the socket, unblocking Serve. Idempotent.
func (r *Responder) Stop(context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		pc := r.pc
		r.mu.Unlock()
		if pc != nil {
			_ = pc.Close()
		}
	})
	return nil
}

// joinGroup joins the discovery group on every up, multicast-capable
// interface. Per-interface failures are logged and skipped so one odd
// interface cannot take discovery down.
func (r *Responder) joinGroup(pc net.PacketConn) {
	group := net.ParseIP(r.cfg.GroupAddress)
	if group == nil {
		logger.Warn("invalid discovery group address",
			"group", r.cfg.GroupAddress)
		return
	}

	p := ipv4.NewPacketConn(pc)
	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn("interface enumeration failed", logger.Err(err))
		return
	}

	joined := 0
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p.JoinGroup(&ifi, &net.UDPAddr{IP: group}); err != nil {
			logger.Debug("multicast join failed",
				"interface", ifi.Name, logger.Err(err))
			continue
		}
		joined++
	}
	logger.Debug("multicast group joined",
		"group", r.cfg.GroupAddress, "interfaces", joined)
}

// handleDatagram parses one datagram and builds the reply, if any. Only a
// well-formed DISCOVER record with an empty payload gets one.
func (r *Responder) handleDatagram(data []byte) ([]byte, bool) {
	if len(data) < tlv.HeaderLen {
		return nil, false
	}
	typ := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint16(data[2:4])
	if typ != tlv.TypeDiscover || length != 0 {
		return nil, false
	}

	ip, err := r.outboundIP()
	if err != nil {
		logger.Debug("local address probe failed", logger.Err(err))
		return nil, false
	}

	info := tlv.ServerInfo{IP: ip, Port: uint16(r.cfg.ChatPort)}
	payload, err := info.Marshal()
	if err != nil {
		logger.Debug("server info marshal failed", logger.Err(err))
		return nil, false
	}

	var b bytes.Buffer
	if err := tlv.WriteRecord(&b, tlv.TypeServerInfo, payload); err != nil {
		return nil, false
	}
	return b.Bytes(), true
}

// probeOutboundIP finds the LAN-facing IPv4 address by opening a connected
// UDP socket toward a public address and reading the local end. No packet is
// sent by the probe.
func probeOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:53")
	if err != nil {
		return nil, fmt.Errorf("discovery: address probe: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
