package mock

import (
	"context"
	"testing"

	"github.com/harunnryd/bodhi/pkg/adapters/stt"
	"github.com/harunnryd/bodhi/pkg/audio"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/logging"
)

func TestMockRecognizerRunsScriptedSession(t *testing.T) {
	r := NewSTT(STTConfig{Transcript: "मुझे|जाना है", EmitPartial: true, Logger: logging.Discard()})
	src, err := audio.NewBufferSource(make([]byte, 960), 320)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	rec := &events.Recorder{}
	res, err := r.Transcribe(context.Background(), stt.Request{Source: src, Listener: rec})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text() != "मुझे, जाना है" || !res.EOS || res.CallID != "mock-call" {
		t.Fatalf("unexpected result %+v", res)
	}
	if rec.Count(events.TypeTranscript) != 4 {
		t.Fatalf("expected partial and complete events, got %d", rec.Count(events.TypeTranscript))
	}
	if len(r.Script()) != 4 {
		t.Fatalf("unexpected script length %d", len(r.Script()))
	}
}
