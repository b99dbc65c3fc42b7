package tlv

import (
	"encoding/binary"
	"fmt"
	"net"
)

// GroupInfo is the fixed-width payload of a TypeGroupInfo record:
//
//	name      [32]byte  group name, zero padded
//	mcast_ip  [16]byte  dotted-quad multicast address, zero padded
//	port      uint16    multicast port, big-endian
//	id        uint32    group id, big-endian
//
// 54 bytes total. The fixed layout lets clients decode the record without
// further framing before joining the multicast group.
type GroupInfo struct {
	Name      string
	McastAddr string
	McastPort uint16
	ID        uint32
}

// GroupInfoLen is the wire size of a GroupInfo payload.
const GroupInfoLen = 32 + 16 + 2 + 4

// Marshal renders the fixed-width wire form.
func (g *GroupInfo) Marshal() ([]byte, error) {
	if len(g.Name) > 32 {
		return nil, fmt.Errorf("tlv: group name too long: %q", g.Name)
	}
	if len(g.McastAddr) > 16 {
		return nil, fmt.Errorf("tlv: multicast address too long: %q", g.McastAddr)
	}

	buf := make([]byte, GroupInfoLen)
	copy(buf[0:32], g.Name)
	copy(buf[32:48], g.McastAddr)
	binary.BigEndian.PutUint16(buf[48:50], g.McastPort)
	binary.BigEndian.PutUint32(buf[50:54], g.ID)
	return buf, nil
}

// UnmarshalGroupInfo decodes a TypeGroupInfo payload.
func UnmarshalGroupInfo(payload []byte) (*GroupInfo, error) {
	if len(payload) != GroupInfoLen {
		return nil, fmt.Errorf("tlv: group info payload must be %d bytes, got %d", GroupInfoLen, len(payload))
	}
	return &GroupInfo{
		Name:      cstring(payload[0:32]),
		McastAddr: cstring(payload[32:48]),
		McastPort: binary.BigEndian.Uint16(payload[48:50]),
		ID:        binary.BigEndian.Uint32(payload[50:54]),
	}, nil
}

// ServerInfo is the payload of a TypeServerInfo discovery response: the
// server's IPv4 address and TCP port, both in network byte order.
type ServerInfo struct {
	IP   net.IP
	Port uint16
}

// ServerInfoLen is the wire size of a ServerInfo payload.
const ServerInfoLen = 6

// Marshal renders the 6-byte wire form. The IP must be IPv4.
func (s *ServerInfo) Marshal() ([]byte, error) {
	ip4 := s.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("tlv: server info requires an IPv4 address, got %v", s.IP)
	}
	buf := make([]byte, ServerInfoLen)
	copy(buf[0:4], ip4)
	binary.BigEndian.PutUint16(buf[4:6], s.Port)
	return buf, nil
}

// UnmarshalServerInfo decodes a TypeServerInfo payload.
func UnmarshalServerInfo(payload []byte) (*ServerInfo, error) {
	if len(payload) != ServerInfoLen {
		return nil, fmt.Errorf("tlv: server info payload must be %d bytes, got %d", ServerInfoLen, len(payload))
	}
	return &ServerInfo{
		IP:   net.IPv4(payload[0], payload[1], payload[2], payload[3]),
		Port: binary.BigEndian.Uint16(payload[4:6]),
	}, nil
}

// cstring returns the bytes before the first NUL, as a string.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
