package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/harunnryd/bodhi/pkg/errorsx"
)

// HandshakeStatus classifies a rejected connection attempt.
type HandshakeStatus int

const (
	StatusUnknown HandshakeStatus = iota
	StatusUnauthorized
	StatusInsufficientBalance
	StatusDeactivated
)

// ClassifyStatus maps an HTTP status code from the upgrade response.
func ClassifyStatus(code int) HandshakeStatus {
	switch code {
	case http.StatusUnauthorized:
		return StatusUnauthorized
	case http.StatusPaymentRequired:
		return StatusInsufficientBalance
	case http.StatusForbidden:
		return StatusDeactivated
	default:
		return StatusUnknown
	}
}

func (s HandshakeStatus) String() string {
	switch s {
	case StatusUnauthorized:
		return "unauthorized"
	case StatusInsufficientBalance:
		return "insufficient_balance"
	case StatusDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Code returns the conventional status code, or 0 for StatusUnknown.
func (s HandshakeStatus) Code() int {
	switch s {
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusInsufficientBalance:
		return http.StatusPaymentRequired
	case StatusDeactivated:
		return http.StatusForbidden
	default:
		return 0
	}
}

// Description is the user-facing explanation of the rejection.
func (s HandshakeStatus) Description() string {
	switch s {
	case StatusUnauthorized:
		return "Invalid API key or customer ID."
	case StatusInsufficientBalance:
		return "Insufficient balance."
	case StatusDeactivated:
		return "Customer has been deactivated"
	default:
		return "Connection rejected."
	}
}

// HandshakeRejectedError is returned when the remote side refuses the
// connection. It is never retried.
type HandshakeRejectedError struct {
	Status     HandshakeStatus
	StatusCode int
	Err        error
}

func (e *HandshakeRejectedError) Error() string {
	return fmt.Sprintf("handshake rejected (%d): %s", e.StatusCode, e.Status.Description())
}

func (e *HandshakeRejectedError) Unwrap() error { return e.Err }

// ConnectionError reports a transport that could not be established or
// dropped mid-session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection error: " + e.Op
	}
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError carries an error event sent by the remote side.
type ProtocolError struct {
	Kind      string
	Message   string
	Code      int
	Timestamp string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error %s (code %d)", e.Kind, e.Code)
	}
	return fmt.Sprintf("remote error %s (code %d): %s", e.Kind, e.Code, e.Message)
}

// SourceError wraps a failure of the audio source. The session still sends
// end-of-input before returning it.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string { return "audio source: " + e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }

// MalformedFrameError describes an inbound frame that could not be decoded.
// It is logged and skipped, never returned from Run.
type MalformedFrameError struct {
	Payload string
	Err     error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

var (
	// ErrCancelled marks a task stopped by the coordinator while draining.
	// It never reaches the caller.
	ErrCancelled = errors.New("session task cancelled")
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("session already started")
)

// reasonFor attaches the errorsx reason matching the error kind.
func reasonFor(err error) error {
	var (
		hs   *HandshakeRejectedError
		conn *ConnectionError
		prot *ProtocolError
		src  *SourceError
	)
	switch {
	case errors.As(err, &hs):
		return errorsx.Wrap(err, errorsx.ReasonHandshakeRejected)
	case errors.As(err, &conn):
		return errorsx.Wrap(err, errorsx.ReasonConnection)
	case errors.As(err, &prot):
		return errorsx.Wrap(err, errorsx.ReasonProtocol)
	case errors.As(err, &src):
		return errorsx.Wrap(err, errorsx.ReasonAudioSource)
	case errors.Is(err, ErrCancelled):
		return errorsx.Wrap(err, errorsx.ReasonCancelled)
	default:
		return err
	}
}
