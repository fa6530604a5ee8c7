package events

import (
	"sync"
	"time"
)

// Type enumerates the session events a listener can observe.
type Type int

const (
	TypeTranscript Type = iota
	TypeUtteranceEnd
	TypeSpeechStarted
	TypeError
	TypeClose
)

// String returns the string representation of a Type
func (t Type) String() string {
	switch t {
	case TypeTranscript:
		return "Transcript"
	case TypeUtteranceEnd:
		return "UtteranceEnd"
	case TypeSpeechStarted:
		return "SpeechStarted"
	case TypeError:
		return "Error"
	case TypeClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Event is the tagged union delivered to listeners. Fields not relevant to
// Type are zero.
type Event struct {
	Type          Type
	Time          time.Time
	Provider      string
	TransactionID string
	CallID        string
	SegmentID     string
	// Kind is the remote transcript type ("partial", "complete", ...).
	Kind string
	Text string
	EOS  bool
	Err  error
}

// Listener observes session events. OnEvent runs on the reading goroutine and
// must not block.
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

// Nop discards every event.
type Nop struct{}

func (Nop) OnEvent(Event) {}

// Registry dispatches events to handlers registered per Type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type][]ListenerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type][]ListenerFunc)}
}

// On registers fn for events of type t.
func (r *Registry) On(t Type, fn func(Event)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.handlers[t] = append(r.handlers[t], fn)
	r.mu.Unlock()
}

// OnEvent implements Listener.
func (r *Registry) OnEvent(ev Event) {
	r.mu.RLock()
	list := make([]ListenerFunc, len(r.handlers[ev.Type]))
	copy(list, r.handlers[ev.Type])
	r.mu.RUnlock()

	for _, fn := range list {
		fn(ev)
	}
}

// Multi fans events out to several listeners in order.
type Multi []Listener

func (m Multi) OnEvent(ev Event) {
	for _, l := range m {
		if l != nil {
			l.OnEvent(ev)
		}
	}
}

// Recorder stores every event; intended for tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
