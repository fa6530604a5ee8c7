package stt

import (
	"context"
	"time"

	"github.com/harunnryd/bodhi/pkg/audio"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/session"
)

// Recognizer defines the contract for any streaming speech-to-text vendor.
type Recognizer interface {
	// Name returns provider name for logging/metrics.
	Name() string
	// Transcribe streams req.Source until it is exhausted or req.Stop
	// fires, and returns the aggregate transcript.
	Transcribe(ctx context.Context, req Request) (session.Result, error)
}

// Request describes one streaming attempt.
type Request struct {
	Source     audio.Source
	SampleRate int
	// Interval paces a replayed source in real time. Zero for live sources.
	Interval time.Duration
	Listener events.Listener
	// Stop ends the audio uplink gracefully when closed.
	Stop <-chan struct{}
}
