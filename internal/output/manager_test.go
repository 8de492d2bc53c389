package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tanq16/rangefetch/internal/events"
)

func statusOf(m *Manager, id string) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.jobs[id]; exists {
		return info.Status
	}
	return "unknown"
}

func TestManagerSinkAndSummary(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerTo(&buf, false)
	m.Register("a", "alpha.bin")
	m.Register("b", "beta.bin")

	sink := m.Sink("a")
	sink.Notify(events.Notification{ID: "a", Downloading: true, Downloaded: 512, Total: 1024, Speed: "1.00MB/s"})
	if got := statusOf(m, "a"); got != "active" {
		t.Fatalf("status after progress = %q, want active", got)
	}
	m.mutex.RLock()
	line := m.jobs["a"].StreamLine
	m.mutex.RUnlock()
	if !strings.Contains(line, "50.0%") || !strings.Contains(line, "1.00MB/s") {
		t.Errorf("unexpected progress line %q", line)
	}

	m.Complete("a", "")
	// late progress must not reopen a finished job
	sink.Notify(events.Notification{ID: "a", Downloading: true, Downloaded: 600, Total: 1024})
	if got := statusOf(m, "a"); got != "success" {
		t.Errorf("status after completion = %q, want success", got)
	}
	m.ReportError("b", errors.New("connection reset"))
	if m.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", m.Failures())
	}

	m.StartDisplay()
	m.StopDisplay()
	out := buf.String()
	for _, want := range []string{"Completed alpha.bin", "Failed beta.bin", "Completed 1 of 2", "Failed 1 of 2", "connection reset"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestManagerUnknownJob(t *testing.T) {
	m := NewManagerTo(&bytes.Buffer{}, false)
	m.Sink("ghost").Notify(events.Notification{Downloading: true})
	m.Complete("ghost", "done")
	if got := statusOf(m, "ghost"); got != "unknown" {
		t.Errorf("status of ghost = %q, want unknown", got)
	}
}

func TestPrintProgressBar(t *testing.T) {
	if bar := PrintProgressBar(50, 200, 20); !strings.Contains(bar, "25.0%") {
		t.Errorf("bar = %q", bar)
	}
	if bar := PrintProgressBar(500, 200, 20); !strings.Contains(bar, "100.0%") {
		t.Errorf("overflowing bar = %q", bar)
	}
	if bar := PrintProgressBar(10, 0, 20); !strings.Contains(bar, "?%") {
		t.Errorf("indeterminate bar = %q", bar)
	}
}

func TestManagerActiveJobShowsMessage(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerTo(&buf, false)
	m.Register("a", "https://example.com/alpha.bin")
	m.Register("b", "https://example.com/beta.bin")
	m.SetStatus("a", "active")
	m.SetMessage("a", "Probing https://example.com/alpha.bin")

	m.mutex.Lock()
	m.render(10)
	m.mutex.Unlock()
	out := buf.String()
	if !strings.Contains(out, "Probing https://example.com/alpha.bin") {
		t.Errorf("active job message missing:\n%s", out)
	}
	if !strings.Contains(out, "Waiting... https://example.com/beta.bin") {
		t.Errorf("pending job missing:\n%s", out)
	}
}
