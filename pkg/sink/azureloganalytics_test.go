package sink

import (
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"
)

func TestAzureLogAnalyticsSink_SignIsDeterministic(t *testing.T) {
	s := NewAzureLogAnalyticsSink("workspace-a", base64.StdEncoding.EncodeToString([]byte("shared-key-bytes")), "")
	date := "Fri, 31 Jul 2026 00:00:00 GMT"

	sig1, err := s.sign(128, date)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig2, err := s.sign(128, date)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1 != sig2 {
		t.Fatalf("expected deterministic signature for identical inputs")
	}

	sig3, err := s.sign(256, date)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1 == sig3 {
		t.Fatalf("expected different signature for different content length")
	}
}

func TestAzureLogAnalyticsSink_SignRejectsNonBase64Key(t *testing.T) {
	s := NewAzureLogAnalyticsSink("workspace-a", "not valid base64!!", "")
	if _, err := s.sign(1, "date"); err == nil {
		t.Fatalf("expected error decoding invalid shared key")
	}
}

func TestSanitizeLogType(t *testing.T) {
	if got := sanitizeLogType("Audit.Exchange"); got != "Audit_Exchange" {
		t.Fatalf("sanitizeLogType = %q", got)
	}
}

func TestWatermark_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermark.msgpack")

	s := NewAzureLogAnalyticsSink("workspace-a", base64.StdEncoding.EncodeToString([]byte("k")), path)
	if !s.LastFlush().IsZero() {
		t.Fatalf("expected zero watermark before any flush")
	}
	s.saveWatermark()

	reloaded := NewAzureLogAnalyticsSink("workspace-a", base64.StdEncoding.EncodeToString([]byte("k")), path)
	if reloaded.LastFlush().IsZero() {
		t.Fatalf("expected persisted watermark to be loaded")
	}
	if time.Since(reloaded.LastFlush()) > time.Minute {
		t.Fatalf("reloaded watermark too old: %v", reloaded.LastFlush())
	}
}
