package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver records on its own goroutine so slow sinks never stall the
// uplink or downlink. High-volume events are dropped, and counted, when the
// buffer is full; lossless events wait for room instead.
type AsyncObserver struct {
	inner    Observer
	ch       chan MetricsEvent
	lossless map[string]struct{}
	dropped  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncObserver buffers up to buffer events (256 when <= 0).
func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: inner,
		ch:    make(chan MetricsEvent, buffer),
		lossless: map[string]struct{}{
			EventHandshake:       {},
			EventSessionClosed:   {},
			EventBatchRequest:    {},
			EventLifecycleChange: {},
		},
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	if _, ok := a.lossless[ev.Name]; ok {
		a.ch <- ev
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the buffer is written.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
