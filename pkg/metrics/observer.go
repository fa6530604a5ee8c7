package metrics

import "time"

// Session metric names.
const (
	EventHandshake         = "session_handshake"
	EventChunkSent         = "audio_chunk_sent"
	EventFrameReceived     = "frame_received"
	EventMalformedFrame    = "malformed_frame"
	EventFirstTranscript   = "first_transcript_latency_ms"
	EventSessionClosed     = "session_closed"
	EventBatchRequest      = "batch_request"
	EventLifecycleChange   = "lifecycle_change"
	EventUplinkCancelLate  = "uplink_cancel_timeout"
	EventDownlinkDrainLate = "downlink_drain_timeout"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Emit records a named event stamped with the current time. A nil observer
// is ignored.
func Emit(obs Observer, name string, value float64, tags map[string]string, fields map[string]any) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   tags,
		Fields: fields,
	})
}
