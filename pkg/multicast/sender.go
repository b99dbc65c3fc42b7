// Package multicast delivers group chat messages over UDP multicast.
//
// Each group owns a multicast endpoint assigned at creation time; members
// listen on it directly, so the server only has to emit one datagram per
// group message. The sender opens a transient socket per send rather than
// caching one per group: group churn is low and the kernel does the heavy
// lifting either way.
package multicast

import (
	"fmt"
	"net"
)

// Sender fans a group message out to a multicast endpoint. The chat adapter
// depends on this interface so tests can capture sends without touching the
// network.
type Sender interface {
	Send(addr string, port uint16, group, login, display, message string) error
}

// UDPSender is the production Sender.
type UDPSender struct{}

// NewUDPSender returns a Sender that writes real datagrams.
func NewUDPSender() *UDPSender {
	return &UDPSender{}
}

// Payload renders the datagram body: "[group] <login> display : message".
// Receivers display it as-is.
func Payload(group, login, display, message string) string {
	return fmt.Sprintf("[%s] <%s> %s : %s", group, login, display, message)
}

// Send writes one datagram to the group's multicast endpoint.
func (s *UDPSender) Send(addr string, port uint16, group, login, display, message string) error {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return fmt.Errorf("multicast: dial %s:%d: %w", addr, port, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(Payload(group, login, display, message))); err != nil {
		return fmt.Errorf("multicast: send to %s:%d: %w", addr, port, err)
	}
	return nil
}
