package session

import (
	"sync"
	"time"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateInit State = iota
	StateHandshaking
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// StateChange represents a lifecycle transition.
type StateChange struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
}

// StateListener observes lifecycle transitions.
type StateListener interface {
	OnStateChange(change StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(change StateChange)

func (f StateListenerFunc) OnStateChange(change StateChange) { f(change) }

var validTransitions = map[State][]State{
	StateInit:        {StateHandshaking, StateFailed},
	StateHandshaking: {StateStreaming, StateFailed},
	StateStreaming:   {StateDraining, StateFailed},
	StateDraining:    {StateClosed, StateFailed},
}

// lifecycle is written only by the coordinator goroutine; readers may call
// State concurrently.
type lifecycle struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func newLifecycle() *lifecycle {
	return &lifecycle{current: StateInit}
}

func (l *lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (l *lifecycle) Transition(to State, reason string) error {
	l.mu.Lock()
	if !transitionValid(l.current, to) {
		from := l.current
		l.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	change := StateChange{From: l.current, To: to, Timestamp: time.Now(), Reason: reason}
	l.current = to
	listeners := make([]StateListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(change)
	}
	return nil
}

func (l *lifecycle) AddListener(listener StateListener) {
	if listener == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, listener)
	l.mu.Unlock()
}

// InvalidTransitionError represents an invalid lifecycle transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
