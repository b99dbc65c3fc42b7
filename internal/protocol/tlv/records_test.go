package tlv

import (
	"net"
	"testing"
)

func TestGroupInfoRoundTrip(t *testing.T) {
	in := &GroupInfo{
		Name:      "devs",
		McastAddr: "239.0.0.2",
		McastPort: 7001,
		ID:        1,
	}

	wire, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(wire) != GroupInfoLen {
		t.Fatalf("wire length = %d, want %d", len(wire), GroupInfoLen)
	}

	out, err := UnmarshalGroupInfo(wire)
	if err != nil {
		t.Fatal(err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestGroupInfoRejectsShortPayload(t *testing.T) {
	if _, err := UnmarshalGroupInfo(make([]byte, GroupInfoLen-1)); err == nil {
		t.Error("UnmarshalGroupInfo accepted a short payload")
	}
}

func TestServerInfoRoundTrip(t *testing.T) {
	in := &ServerInfo{IP: net.IPv4(192, 168, 1, 20), Port: 6000}

	wire, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(wire) != ServerInfoLen {
		t.Fatalf("wire length = %d, want %d", len(wire), ServerInfoLen)
	}
	// IP in network order, port big-endian.
	want := []byte{192, 168, 1, 20, 0x17, 0x70}
	for i := range want {
		if wire[i] != want[i] {
			t.Fatalf("wire = %v, want %v", wire, want)
		}
	}

	out, err := UnmarshalServerInfo(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IP.Equal(in.IP) || out.Port != in.Port {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestServerInfoRejectsIPv6(t *testing.T) {
	info := &ServerInfo{IP: net.ParseIP("fe80::1"), Port: 6000}
	if _, err := info.Marshal(); err == nil {
		t.Error("Marshal accepted an IPv6 address")
	}
}
