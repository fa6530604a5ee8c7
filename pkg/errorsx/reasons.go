package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonHandshakeRejected ReasonCode = "handshake_rejected"
	ReasonConnection        ReasonCode = "connection"
	ReasonProtocol          ReasonCode = "protocol"
	ReasonMalformedFrame    ReasonCode = "malformed_frame"
	ReasonCancelled         ReasonCode = "cancelled"

	ReasonConfig       ReasonCode = "config"
	ReasonAudioSource  ReasonCode = "audio_source"
	ReasonBatchRequest ReasonCode = "batch_request"
	ReasonRateLimit    ReasonCode = "rate_limit"
	ReasonCircuitOpen  ReasonCode = "circuit_open"
	ReasonStorage      ReasonCode = "storage"
	ReasonProvider     ReasonCode = "provider"
)
