package discovery

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/lanchat/lanchat/internal/protocol/tlv"
)

func testResponder(chatPort int) *Responder {
	r := New(Config{
		GroupAddress: "239.0.0.1",
		Port:         0,
		ChatPort:     chatPort,
	}, nil)
	r.outboundIP = func() (net.IP, error) {
		return net.IPv4(192, 168, 1, 20), nil
	}
	return r
}

func discoverDatagram(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	if err := tlv.WriteRecord(&b, tlv.TypeDiscover, nil); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

func TestHandleDatagramDiscover(t *testing.T) {
	r := testResponder(6000)

	reply, ok := r.handleDatagram(discoverDatagram(t))
	if !ok {
		t.Fatal("no reply to DISCOVER")
	}

	typ, payload, err := tlv.ReadRecord(bytes.NewReader(reply))
	if err != nil {
		t.Fatal(err)
	}
	if typ != tlv.TypeServerInfo {
		t.Fatalf("reply type = %d, want SERVER_INFO", typ)
	}
	info, err := tlv.UnmarshalServerInfo(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IP.Equal(net.IPv4(192, 168, 1, 20)) || info.Port != 6000 {
		t.Errorf("server info = %+v", info)
	}
}

func TestHandleDatagramDrops(t *testing.T) {
	r := testResponder(6000)

	var msg bytes.Buffer
	if err := tlv.WriteRecord(&msg, tlv.TypeMessage, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	var nonEmpty bytes.Buffer
	if err := tlv.WriteRecord(&nonEmpty, tlv.TypeDiscover, []byte("x")); err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"truncated header":   {0x00, 0x64},
		"wrong type":         msg.Bytes(),
		"non-empty DISCOVER": nonEmpty.Bytes(),
		"empty datagram":     {},
	}
	for name, data := range cases {
		if _, ok := r.handleDatagram(data); ok {
			t.Errorf("%s: got a reply, want drop", name)
		}
	}
}

func TestServeRepliesUnicast(t *testing.T) {
	r := testResponder(6000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- r.Serve(ctx) }()

	select {
	case <-r.Ready:
	case <-time.After(2 * time.Second):
		t.Fatal("responder never became ready")
	}

	r.mu.Lock()
	port := r.pc.LocalAddr().(*net.UDPAddr).Port
	r.mu.Unlock()

	client, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	client.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := client.Write(discoverDatagram(t)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 256)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("no reply: %v", err)
	}
	typ, payload, err := tlv.ReadRecord(bytes.NewReader(buf[:n]))
	if err != nil {
		t.Fatal(err)
	}
	if typ != tlv.TypeServerInfo {
		t.Fatalf("reply type = %d", typ)
	}
	info, err := tlv.UnmarshalServerInfo(payload)
	if err != nil {
		t.Fatal(err)
	}
	if info.Port != 6000 {
		t.Errorf("advertised port = %d, want 6000", info.Port)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}
