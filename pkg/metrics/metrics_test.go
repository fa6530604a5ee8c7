package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestSamplingOnlyThinsFrameEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25)
	for i := 0; i < 8; i++ {
		Emit(s, EventChunkSent, 320, nil, nil)
	}
	Emit(s, EventSessionClosed, 1, nil, nil)

	if got := mem.Count(EventChunkSent); got != 2 {
		t.Fatalf("expected 2 sampled chunk events, got %d", got)
	}
	if got := mem.Count(EventSessionClosed); got != 1 {
		t.Fatalf("expected session_closed to pass through, got %d", got)
	}
}

func TestSamplingZeroDropsFrameEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0)
	Emit(s, EventFrameReceived, 1, nil, nil)
	Emit(s, EventHandshake, 1, nil, nil)
	if mem.Count(EventFrameReceived) != 0 || mem.Count(EventHandshake) != 1 {
		t.Fatalf("unexpected events: %+v", mem.Events)
	}
}

func TestSamplingCustomNamesKeepFirst(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.5, EventMalformedFrame)
	for i := 0; i < 3; i++ {
		Emit(s, EventMalformedFrame, 1, nil, nil)
		Emit(s, EventChunkSent, 1, nil, nil)
	}
	if got := mem.Count(EventMalformedFrame); got != 2 {
		t.Fatalf("expected occurrences 1 and 3 kept, got %d", got)
	}
	if got := mem.Count(EventChunkSent); got != 3 {
		t.Fatalf("expected unsampled names to pass through, got %d", got)
	}
}

type slowObserver struct {
	release chan struct{}
	mem     *MemoryObserver
}

func (s *slowObserver) RecordEvent(ev MetricsEvent) {
	<-s.release
	s.mem.RecordEvent(ev)
}

func TestAsyncObserverDropsOnlyHighVolumeEvents(t *testing.T) {
	slow := &slowObserver{release: make(chan struct{}), mem: NewMemoryObserver()}
	a := NewAsyncObserver(slow, 1)
	for i := 0; i < 10; i++ {
		Emit(a, EventChunkSent, 1, nil, nil)
	}
	if a.Dropped() == 0 {
		t.Fatalf("expected chunk events to be dropped with a full buffer")
	}
	close(slow.release)
	Emit(a, EventSessionClosed, 1, nil, nil)
	a.Close()
	if slow.mem.Count(EventSessionClosed) != 1 {
		t.Fatalf("expected session_closed to be kept")
	}
}

func TestAsyncObserverFlushesOnClose(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		Emit(a, EventChunkSent, 320, nil, nil)
	}
	a.Close()
	if got := mem.Sum(EventChunkSent); got != 3200 {
		t.Fatalf("expected all bytes recorded, got %v", got)
	}
	Emit(a, EventChunkSent, 1, nil, nil)
	if mem.Count(EventChunkSent) != 10 {
		t.Fatalf("expected events after close to be ignored")
	}
}

func TestJSONLObserver(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	Emit(o, EventSessionClosed, 1, map[string]string{"transaction_id": "tx-1"}, map[string]any{"eos": true})
	out := buf.String()
	if !strings.Contains(out, `"name":"session_closed"`) || !strings.Contains(out, `"transaction_id":"tx-1"`) {
		t.Fatalf("unexpected jsonl output: %s", out)
	}
	if !strings.Contains(out, `"fields":{"eos":true}`) || strings.Contains(out, `"msg"`) || strings.Contains(out, `"level"`) {
		t.Fatalf("expected grouped fields without log envelope: %s", out)
	}
	Emit(nil, EventSessionClosed, 1, nil, nil)
}
