package observers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventChunkSent,
		Time:  time.Now(),
		Value: 320,
		Tags:  map[string]string{"transaction_id": "tx-1"},
	})
	obs.OnEvent(events.Event{
		Type:          events.TypeTranscript,
		Time:          time.Now(),
		TransactionID: "tx-1",
		Kind:          "complete",
		Text:          "जाना है",
	})
	obs.RecordEvent(metrics.MetricsEvent{Name: "untagged", Time: time.Now()})
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "tx-1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "audio_chunk_sent") || !strings.Contains(lines[1], "event_transcript") {
		t.Fatalf("unexpected timeline content: %s", b)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected untagged events to be skipped, got %d files", len(entries))
	}
}

func TestSanitizeID(t *testing.T) {
	if got := sanitizeID("../a b"); got != ".._a_b" {
		t.Fatalf("unexpected sanitized id %q", got)
	}
}
