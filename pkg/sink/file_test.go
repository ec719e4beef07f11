package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wisbric/feedrelay/pkg/collector"
)

func TestFileSink_Unified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	s := NewFileSink(path, false, "")

	buckets := map[collector.ContentType][]collector.LogRecord{
		collector.ContentTypeExchange: {
			{"Operation": "Send", "OriginFeed": "Audit.Exchange"},
		},
		collector.ContentTypeGeneral: {
			{"Operation": "UserLoggedIn", "OriginFeed": "Audit.General"},
		},
	}
	if err := s.Send(context.Background(), buckets); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(data))
	}
	for _, line := range lines {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("unmarshaling line %q: %v", line, err)
		}
	}
}

func TestFileSink_SeparateByContentType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	s := NewFileSink(path, true, "")

	buckets := map[collector.ContentType][]collector.LogRecord{
		collector.ContentTypeExchange: {{"Operation": "Send"}},
	}
	if err := s.Send(context.Background(), buckets); err != nil {
		t.Fatalf("Send: %v", err)
	}

	expected := filepath.Join(dir, "AuditExchange.json")
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected per-content-type file %s to exist: %v", expected, err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("unified path %s should not have been written to", path)
	}
}

func TestFileSink_CustomSeparator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	s := NewFileSink(path, false, "\n---\n")

	buckets := map[collector.ContentType][]collector.LogRecord{
		collector.ContentTypeExchange: {{"a": 1}, {"a": 2}},
	}
	if err := s.Send(context.Background(), buckets); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(data), "---") {
		t.Fatalf("expected custom separator in output: %q", string(data))
	}
}

func TestFileSink_AppendsAcrossSends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	s := NewFileSink(path, false, "")

	first := map[collector.ContentType][]collector.LogRecord{
		collector.ContentTypeExchange: {{"n": 1}},
	}
	second := map[collector.ContentType][]collector.LogRecord{
		collector.ContentTypeExchange: {{"n": 2}},
	}
	if err := s.Send(context.Background(), first); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := s.Send(context.Background(), second); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines across both sends, got %d", len(lines))
	}
}
