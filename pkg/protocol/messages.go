// Package protocol defines the JSON messages exchanged with the streaming
// transcription endpoint.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Transcript types sent by the remote side. Other values are passed through.
const (
	TypePartial  = "partial"
	TypeComplete = "complete"
)

// StreamConfig is the negotiated session configuration.
type StreamConfig struct {
	SampleRate    int    `json:"sample_rate"`
	TransactionID string `json:"transaction_id"`
	Model         string `json:"model"`
}

// ConfigMessage is the single handshake message opening a session.
type ConfigMessage struct {
	Config StreamConfig `json:"config"`
}

// EOFMessage tells the remote side that no more audio follows.
type EOFMessage struct {
	EOF int `json:"eof"`
}

// EncodeConfig serializes the handshake message.
func EncodeConfig(cfg StreamConfig) (string, error) {
	b, err := json.Marshal(ConfigMessage{Config: cfg})
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(b), nil
}

// EncodeEOF serializes the end-of-input control message: {"eof":1}.
func EncodeEOF() string {
	b, _ := json.Marshal(EOFMessage{EOF: 1})
	return string(b)
}

// Transcript is an inbound transcript event.
type Transcript struct {
	CallID    string `json:"call_id"`
	SegmentID string `json:"segment_id"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	// EOS defaults to false when the field is absent.
	EOS bool `json:"eos"`
}

// IsComplete reports whether the event finalizes a segment.
func (t Transcript) IsComplete() bool { return t.Type == TypeComplete }

// ServerError is an inbound error event.
type ServerError struct {
	Kind      string
	Message   string
	Code      int
	Timestamp string
}

// Message is a decoded inbound frame. Exactly one field is non-nil.
type Message struct {
	Transcript *Transcript
	Error      *ServerError
}

// ErrEmptyFrame is returned for frames with no payload.
var ErrEmptyFrame = errors.New("empty frame")

// Decode parses an inbound text frame. A non-null "error" field takes
// precedence over every transcript field.
func Decode(data []byte) (Message, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Message{}, ErrEmptyFrame
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if raw, ok := fields["error"]; ok && !isNull(raw) {
		se := &ServerError{
			Kind:      looseString(raw),
			Message:   looseString(fields["message"]),
			Code:      looseInt(fields["code"]),
			Timestamp: looseString(fields["timestamp"]),
		}
		return Message{Error: se}, nil
	}
	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return Message{}, fmt.Errorf("decode transcript: %w", err)
	}
	return Message{Transcript: &tr}, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// looseString renders a JSON value as text; strings are unquoted.
func looseString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func looseInt(raw json.RawMessage) int {
	if isNull(raw) {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	}
	if i, err := strconv.Atoi(looseString(raw)); err == nil {
		return i
	}
	return 0
}
