package collector

import (
	"testing"
	"time"
)

func TestSplitWindows_72Hours(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(72 * time.Hour)

	windows := SplitWindows(start, end)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		if windows[i-1].EndISO != windows[i].StartISO {
			t.Errorf("window %d does not meet window %d at a boundary: %s != %s",
				i-1, i, windows[i-1].EndISO, windows[i].StartISO)
		}
	}
	if windows[0].StartISO != "2026-01-01T00:00:00Z" {
		t.Errorf("unexpected first window start: %s", windows[0].StartISO)
	}
	if windows[2].EndISO != "2026-01-04T00:00:00Z" {
		t.Errorf("unexpected last window end: %s", windows[2].EndISO)
	}
}

func TestSplitWindows_25Hours(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(25 * time.Hour)

	windows := SplitWindows(start, end)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	first := mustParse(t, windows[0].EndISO).Sub(mustParse(t, windows[0].StartISO))
	if first != 24*time.Hour {
		t.Errorf("expected first window to span 24h, got %s", first)
	}
	second := mustParse(t, windows[1].EndISO).Sub(mustParse(t, windows[1].StartISO))
	if second != time.Hour {
		t.Errorf("expected second window to span 1h, got %s", second)
	}
}

func TestSplitWindows_EmptyRange(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if windows := SplitWindows(start, start); windows != nil {
		t.Errorf("expected no windows for an empty range, got %v", windows)
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(apiTimestampLayout, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return tm
}
