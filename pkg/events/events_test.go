package events

import "testing"

func TestRegistryDispatchesByType(t *testing.T) {
	reg := NewRegistry()
	var transcripts, closes int
	reg.On(TypeTranscript, func(Event) { transcripts++ })
	reg.On(TypeTranscript, func(Event) { transcripts++ })
	reg.On(TypeClose, func(Event) { closes++ })

	reg.OnEvent(Event{Type: TypeTranscript, Text: "x"})
	reg.OnEvent(Event{Type: TypeSpeechStarted})
	reg.OnEvent(Event{Type: TypeClose})

	if transcripts != 2 {
		t.Fatalf("expected both transcript handlers to run, got %d", transcripts)
	}
	if closes != 1 {
		t.Fatalf("expected one close, got %d", closes)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	rec := &Recorder{}
	var seen int
	m := Multi{rec, nil, ListenerFunc(func(Event) { seen++ })}
	m.OnEvent(Event{Type: TypeError})
	m.OnEvent(Event{Type: TypeError})

	if rec.Count(TypeError) != 2 || seen != 2 {
		t.Fatalf("expected fan-out to every listener, recorder=%d func=%d", rec.Count(TypeError), seen)
	}
	if got := TypeUtteranceEnd.String(); got != "UtteranceEnd" {
		t.Fatalf("unexpected type name %q", got)
	}
}
