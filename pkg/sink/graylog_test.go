package sink

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/wisbric/feedrelay/pkg/collector"
)

func TestGraylogSink_SendsUDPPacket(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listening udp: %v", err)
	}
	defer conn.Close()

	addr := conn.LocalAddr().(*net.UDPAddr)
	s, err := NewGraylogSink("127.0.0.1", uint16(addr.Port))
	if err != nil {
		t.Fatalf("NewGraylogSink: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 65536)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadFromUDP(buf)
	}()

	buckets := map[collector.ContentType][]collector.LogRecord{
		collector.ContentTypeExchange: {{"Operation": "Send"}},
	}
	if err := s.Send(context.Background(), buckets); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for UDP packet")
	}
}

func TestRecordToGelfMessage_FallsBackToContentType(t *testing.T) {
	msg := recordToGelfMessage(collector.ContentTypeSharePoint, collector.LogRecord{"Foo": "bar"})
	if msg.Short != string(collector.ContentTypeSharePoint) {
		t.Fatalf("expected Short to fall back to content type, got %q", msg.Short)
	}
	if msg.Extra["Foo"] != "bar" {
		t.Fatalf("expected Extra to carry record fields, got %+v", msg.Extra)
	}
}
