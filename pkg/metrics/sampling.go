package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver keeps one in every 1/rate occurrences of each high-volume
// event name and passes everything else through. The first occurrence of a
// sampled name is always kept.
type SamplingObserver struct {
	inner    Observer
	every    uint64
	counters map[string]*atomic.Uint64
}

// NewSamplingObserver samples the given names, or audio chunks and received
// frames when none are given. A rate of 0 drops them entirely.
func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	if len(names) == 0 {
		names = []string{EventChunkSent, EventFrameReceived}
	}
	s := &SamplingObserver{inner: inner, counters: make(map[string]*atomic.Uint64, len(names))}
	for _, name := range names {
		s.counters[name] = new(atomic.Uint64)
	}
	switch {
	case rate <= 0:
		s.every = 0
	case rate >= 1:
		s.every = 1
	default:
		s.every = uint64(math.Max(1, math.Round(1/rate)))
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	counter, ok := s.counters[ev.Name]
	if !ok {
		s.inner.RecordEvent(ev)
		return
	}
	if s.every == 0 {
		return
	}
	if n := counter.Add(1); s.every == 1 || n%s.every == 1 {
		s.inner.RecordEvent(ev)
	}
}
